package nodeexec_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/kerrors"
	"kce.dev/kce/internal/kg"
	"kce.dev/kce/internal/kg/memstore"
	"kce.dev/kce/internal/nodeexec"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestExecutor_Execute_Success(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	script := writeScript(t, dir, "double.sh", "#!/bin/sh\necho '{\"doubled\": 10}'\n")

	store := kg.New(memstore.New())
	workflowContext := "urn:kce:ctx:run1"
	require.NoError(t, store.AddTriples(ctx, []domain.Triple{
		{Subject: domain.IRI(workflowContext), Predicate: domain.IRI("urn:kce:prop:hasValue"), Object: domain.Literal("5", domain.XSDInteger)},
	}))

	node := domain.AtomicNode{
		URI: "urn:kce:node:double",
		Inputs: []domain.Parameter{
			{Name: "value", MapsToRdfProperty: "urn:kce:prop:hasValue", DataType: domain.XSDInteger, IsRequired: true},
		},
		Outputs: []domain.Parameter{
			{Name: "doubled", MapsToRdfProperty: "urn:kce:prop:hasDoubled", DataType: domain.XSDInteger},
		},
		Effects: []domain.Effect{
			{Kind: domain.EffectAssertProperty, Property: "urn:kce:prop:hasDoubled", ValueFromOutput: "doubled"},
		},
		Invocation: domain.InvocationSpec{
			Kind:                 domain.SubprocessScript,
			ScriptPath:           script,
			ArgumentPassingStyle: domain.NamedCLI,
			OutputParsingStyle:   domain.JSONStdout,
		},
	}

	exec := nodeexec.New(store, nodeexec.Config{Timeout: 5 * time.Second})
	result, err := exec.Execute(ctx, node, workflowContext)
	require.NoError(t, err)
	require.Len(t, result.OutputTriples, 1)
	assert.Equal(t, "10", result.OutputTriples[0].Object.Value)
	assert.Equal(t, "urn:kce:prop:hasDoubled", result.OutputTriples[0].Predicate.Value)
}

func TestExecutor_Execute_OutputWrittenWithoutMatchingEffect(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	script := writeScript(t, dir, "report.sh", "#!/bin/sh\necho '{\"status\": \"done\"}'\n")

	store := kg.New(memstore.New())
	node := domain.AtomicNode{
		URI: "urn:kce:node:report",
		Outputs: []domain.Parameter{
			{Name: "status", MapsToRdfProperty: "urn:kce:prop:hasStatus", DataType: domain.XSDString},
		},
		// No Effects declared at all: the output must still be written.
		Invocation: domain.InvocationSpec{Kind: domain.SubprocessScript, ScriptPath: script, OutputParsingStyle: domain.JSONStdout},
	}

	exec := nodeexec.New(store, nodeexec.Config{})
	result, err := exec.Execute(ctx, node, "urn:kce:ctx:run1")
	require.NoError(t, err)
	require.Len(t, result.OutputTriples, 1)
	assert.Equal(t, "urn:kce:prop:hasStatus", result.OutputTriples[0].Predicate.Value)
	assert.Equal(t, "done", result.OutputTriples[0].Object.Value)
}

func TestExecutor_Execute_NamedCLIPassesTwoTokensPerInput(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	script := writeScript(t, dir, "argdump.sh", "#!/bin/sh\nprintf '{\"argc\": %d, \"first\": \"%s\", \"second\": \"%s\"}' \"$#\" \"$1\" \"$2\"\n")

	store := kg.New(memstore.New())
	workflowContext := "urn:kce:ctx:run1"
	require.NoError(t, store.AddTriples(ctx, []domain.Triple{
		{Subject: domain.IRI(workflowContext), Predicate: domain.IRI("urn:kce:prop:hasName"), Object: domain.Literal("widget", domain.XSDString)},
	}))

	node := domain.AtomicNode{
		URI: "urn:kce:node:named",
		Inputs: []domain.Parameter{
			{Name: "name", MapsToRdfProperty: "urn:kce:prop:hasName", DataType: domain.XSDString, IsRequired: true},
		},
		Outputs: []domain.Parameter{
			{Name: "argc", MapsToRdfProperty: "urn:kce:prop:argc", DataType: domain.XSDInteger},
			{Name: "first", MapsToRdfProperty: "urn:kce:prop:first", DataType: domain.XSDString},
			{Name: "second", MapsToRdfProperty: "urn:kce:prop:second", DataType: domain.XSDString},
		},
		Invocation: domain.InvocationSpec{
			Kind:                 domain.SubprocessScript,
			ScriptPath:           script,
			ArgumentPassingStyle: domain.NamedCLI,
			OutputParsingStyle:   domain.JSONStdout,
		},
	}

	exec := nodeexec.New(store, nodeexec.Config{})
	result, err := exec.Execute(ctx, node, workflowContext)
	require.NoError(t, err)
	assert.Equal(t, "2", result.Outputs["argc"].Value)
	assert.Equal(t, "--name", result.Outputs["first"].Value)
	assert.Equal(t, "widget", result.Outputs["second"].Value)
}

func TestExecutor_Execute_EnvAllowlistFiltersEnvironment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	script := writeScript(t, dir, "env.sh", "#!/bin/sh\nprintf '{\"kept\": \"%s\", \"dropped\": \"%s\"}' \"$KCE_KEPT\" \"$KCE_DROPPED\"\n")

	t.Setenv("KCE_KEPT", "yes")
	t.Setenv("KCE_DROPPED", "no")

	store := kg.New(memstore.New())
	node := domain.AtomicNode{
		URI: "urn:kce:node:envcheck",
		Outputs: []domain.Parameter{
			{Name: "kept", MapsToRdfProperty: "urn:kce:prop:kept", DataType: domain.XSDString},
			{Name: "dropped", MapsToRdfProperty: "urn:kce:prop:dropped", DataType: domain.XSDString},
		},
		Invocation: domain.InvocationSpec{Kind: domain.SubprocessScript, ScriptPath: script, OutputParsingStyle: domain.JSONStdout},
	}

	exec := nodeexec.New(store, nodeexec.Config{EnvAllowlist: []string{"KCE_KEPT"}})
	result, err := exec.Execute(ctx, node, "urn:kce:ctx:run1")
	require.NoError(t, err)
	assert.Equal(t, "yes", result.Outputs["kept"].Value)
	assert.Equal(t, "", result.Outputs["dropped"].Value)
}

func TestExecutor_Execute_MissingRequiredInput(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	script := writeScript(t, dir, "noop.sh", "#!/bin/sh\necho '{}'\n")

	store := kg.New(memstore.New())
	node := domain.AtomicNode{
		URI: "urn:kce:node:needs-input",
		Inputs: []domain.Parameter{
			{Name: "id", MapsToRdfProperty: "urn:kce:prop:hasId", IsRequired: true},
		},
		Invocation: domain.InvocationSpec{Kind: domain.SubprocessScript, ScriptPath: script},
	}

	exec := nodeexec.New(store, nodeexec.Config{})
	_, err := exec.Execute(ctx, node, "urn:kce:ctx:run1")
	require.Error(t, err)
	var missing *kerrors.MissingInputError
	assert.ErrorAs(t, err, &missing)
}

func TestExecutor_Execute_ScriptErrorOnNonZeroExit(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	script := writeScript(t, dir, "fail.sh", "#!/bin/sh\necho 'boom' >&2\nexit 3\n")

	store := kg.New(memstore.New())
	node := domain.AtomicNode{
		URI:        "urn:kce:node:fails",
		Invocation: domain.InvocationSpec{Kind: domain.SubprocessScript, ScriptPath: script},
	}

	exec := nodeexec.New(store, nodeexec.Config{})
	_, err := exec.Execute(ctx, node, "urn:kce:ctx:run1")
	require.Error(t, err)
	var scriptErr *kerrors.ScriptError
	require.ErrorAs(t, err, &scriptErr)
	assert.Equal(t, 3, scriptErr.ExitCode)
	assert.Contains(t, scriptErr.StderrTail, "boom")
}

func TestExecutor_Execute_TimeoutKillsScript(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	script := writeScript(t, dir, "slow.sh", "#!/bin/sh\nsleep 5\necho '{}'\n")

	store := kg.New(memstore.New())
	node := domain.AtomicNode{
		URI:        "urn:kce:node:slow",
		Invocation: domain.InvocationSpec{Kind: domain.SubprocessScript, ScriptPath: script},
	}

	exec := nodeexec.New(store, nodeexec.Config{Timeout: 50 * time.Millisecond})
	_, err := exec.Execute(ctx, node, "urn:kce:ctx:run1")
	require.Error(t, err)
	var timeoutErr *kerrors.TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}
