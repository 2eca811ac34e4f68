package planexec_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/id"
	"kce.dev/kce/internal/kg"
	"kce.dev/kce/internal/kg/memstore"
	"kce.dev/kce/internal/nodeexec"
	"kce.dev/kce/internal/planexec"
	"kce.dev/kce/internal/provenance"
)

func init() {
	_ = id.Init(2)
}

func TestExecutor_RunNode_SuccessChainsState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "double.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\necho '{\"doubled\": 10}'\n"), 0o755))

	store := kg.New(memstore.New())
	workflowContext := "urn:kce:ctx:run1"
	require.NoError(t, store.AddTriples(ctx, []domain.Triple{
		{Subject: domain.IRI(workflowContext), Predicate: domain.IRI("urn:kce:prop:hasValue"), Object: domain.Literal("5", domain.XSDInteger)},
	}))

	node := domain.AtomicNode{
		URI: "urn:kce:node:double",
		Inputs: []domain.Parameter{
			{Name: "value", MapsToRdfProperty: "urn:kce:prop:hasValue", IsRequired: true},
		},
		Outputs: []domain.Parameter{{Name: "doubled", MapsToRdfProperty: "urn:kce:prop:hasDoubled", DataType: domain.XSDInteger}},
		Effects: []domain.Effect{{Kind: domain.EffectAssertProperty, Property: "urn:kce:prop:hasDoubled", ValueFromOutput: "doubled"}},
		Invocation: domain.InvocationSpec{
			Kind: domain.SubprocessScript, ScriptPath: scriptPath, ArgumentPassingStyle: domain.NamedCLI, OutputParsingStyle: domain.JSONStdout,
		},
	}

	nx := nodeexec.New(store, nodeexec.Config{Timeout: 5 * time.Second})
	rec := provenance.New(store)
	exec := planexec.New(store, nx, rec, planexec.Catalogue{Nodes: map[string]domain.AtomicNode{node.URI: node}})

	run, err := rec.BeginRun(ctx, domain.TargetDescription{AskQuery: "ASK { ?x <urn:kce:prop:hasDoubled> ?v }"}, workflowContext)
	require.NoError(t, err)

	result, err := exec.Run(ctx, run, domain.Operation{Kind: domain.OpNode, URI: node.URI}, workflowContext, "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.NewState)

	ok, err := store.Ask(ctx, "ASK { <urn:kce:ctx:run1> <urn:kce:prop:hasDoubled> \"10\"^^<http://www.w3.org/2001/XMLSchema#integer> }")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExecutor_RunNode_StampsWasGeneratedByOnCreatedEntityNotWorkflowContext(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "createpanel.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte(
		"#!/bin/sh\necho '{\"_rdf_instructions\": {\"create_entities\": [{\"uri\": \"ex:Panel\", \"type\": \"ex:PanelType\", \"properties\": {\"ex:hasArea\": \"9\"}}]}}'\n",
	), 0o755))

	store := kg.New(memstore.New())
	workflowContext := "urn:kce:ctx:run1"

	node := domain.AtomicNode{
		URI:        "urn:kce:node:createpanel",
		Invocation: domain.InvocationSpec{Kind: domain.SubprocessScript, ScriptPath: scriptPath, OutputParsingStyle: domain.JSONStdout},
	}

	nx := nodeexec.New(store, nodeexec.Config{Timeout: 5 * time.Second})
	rec := provenance.New(store)
	exec := planexec.New(store, nx, rec, planexec.Catalogue{Nodes: map[string]domain.AtomicNode{node.URI: node}})

	run, err := rec.BeginRun(ctx, domain.TargetDescription{AskQuery: "ASK { ?x a <ex:PanelType> }"}, workflowContext)
	require.NoError(t, err)

	result, err := exec.Run(ctx, run, domain.Operation{Kind: domain.OpNode, URI: node.URI}, workflowContext, "")
	require.NoError(t, err)

	panelGenerated, err := store.Ask(ctx, "ASK { <ex:Panel> <urn:kce:prov:wasGeneratedBy> <"+result.NewState+"> }")
	require.NoError(t, err)
	assert.True(t, panelGenerated)

	ctxGenerated, err := store.Ask(ctx, "ASK { <urn:kce:ctx:run1> <urn:kce:prov:wasGeneratedBy> <"+result.NewState+"> }")
	require.NoError(t, err)
	assert.False(t, ctxGenerated)
}

func TestExecutor_RunRules_AppliesAndChains(t *testing.T) {
	ctx := context.Background()
	store := kg.New(memstore.New())
	workflowContext := "urn:kce:ctx:run1"
	require.NoError(t, store.AddTriples(ctx, []domain.Triple{
		{Subject: domain.IRI(workflowContext), Predicate: domain.IRI("urn:kce:prop:hasValue"), Object: domain.Literal("5", domain.XSDInteger)},
	}))

	rule := domain.Rule{
		URI:        "urn:kce:rule:large",
		Antecedent: "{ ?ctx <urn:kce:prop:hasValue> ?v . FILTER(?v > 1) }",
		Consequent: "INSERT DATA { ?ctx <urn:kce:prop:isLarge> \"true\"^^<http://www.w3.org/2001/XMLSchema#boolean> }",
	}

	rec := provenance.New(store)
	exec := planexec.New(store, nil, rec, planexec.Catalogue{Rules: map[string]domain.Rule{rule.URI: rule}})

	run, err := rec.BeginRun(ctx, domain.TargetDescription{AskQuery: "ASK { ?x <urn:kce:prop:isLarge> ?v }"}, workflowContext)
	require.NoError(t, err)

	result, err := exec.Run(ctx, run, domain.Operation{Kind: domain.OpRule}, workflowContext, "")
	require.NoError(t, err)
	assert.Equal(t, 1, result.RulesApplied)
}
