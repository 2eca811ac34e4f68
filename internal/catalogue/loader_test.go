package catalogue

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kce.dev/kce/internal/kerrors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_AtomicNodeAndRule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "script.sh", "#!/bin/sh\necho '{}'\n")

	writeFile(t, dir, "nodes.yaml", `
items:
  - kind: AtomicNode
    uri: urn:kce:node:fetch
    label: Fetch Thing
    inputs:
      - name: id
        property: urn:kce:prop:hasId
        dataType: http://www.w3.org/2001/XMLSchema#string
        required: true
    outputs:
      - name: value
        property: urn:kce:prop:hasValue
        dataType: http://www.w3.org/2001/XMLSchema#integer
    preconditions:
      - "{ ?ctx <urn:kce:prop:hasId> ?id }"
    effects:
      - kind: AssertProperty
        onEntity: urn:kce:prop:hasValue
        property: urn:kce:prop:hasValue
        valueFromOutput: value
    invocation:
      kind: SubprocessScript
      scriptPath: script.sh
      argumentPassingStyle: NamedCLI
      outputParsingStyle: JSONStdout
  - kind: Rule
    uri: urn:kce:rule:derive
    antecedent: "{ ?ctx <urn:kce:prop:hasValue> ?v . FILTER(?v > 1) }"
    consequent: "INSERT DATA { ?ctx urn:kce:prop:isLarge \"true\"^^<http://www.w3.org/2001/XMLSchema#boolean> }"
    priority: 10
    critical: false
`)

	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Nodes, 1)
	require.Len(t, loaded.Rules, 1)

	node := loaded.Nodes[0]
	assert.Equal(t, "urn:kce:node:fetch", node.URI)
	assert.Len(t, node.Inputs, 1)
	assert.True(t, node.Inputs[0].IsRequired)
	assert.Len(t, node.Outputs, 1)
	assert.False(t, node.Outputs[0].IsRequired)
	assert.Len(t, node.Preconditions, 1)
	assert.Len(t, node.Effects, 1)
	assert.True(t, filepath.IsAbs(node.Invocation.ScriptPath))

	rule := loaded.Rules[0]
	assert.Equal(t, 10, rule.Priority)
	assert.False(t, rule.Critical)
}

func TestLoad_UnrecognizedKindAborts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.yaml", `
items:
  - kind: NotAThing
    uri: urn:kce:node:bad
`)
	_, err := Load(dir)
	require.Error(t, err)
	var defErr *kerrors.DefinitionError
	assert.ErrorAs(t, err, &defErr)
}

func TestLoad_DuplicateURIAborts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dup.yaml", `
items:
  - kind: CapabilityTemplate
    uri: urn:kce:cap:shared
  - kind: CapabilityTemplate
    uri: urn:kce:cap:shared
`)
	_, err := Load(dir)
	require.Error(t, err)
	var defErr *kerrors.DefinitionError
	assert.ErrorAs(t, err, &defErr)
}

func TestLoad_MissingScriptAborts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "node.yaml", `
items:
  - kind: AtomicNode
    uri: urn:kce:node:missing
    invocation:
      kind: SubprocessScript
      scriptPath: does-not-exist.sh
`)
	_, err := Load(dir)
	require.Error(t, err)
	var defErr *kerrors.DefinitionError
	assert.ErrorAs(t, err, &defErr)
}

func TestLoad_UnparsablePreconditionAborts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "script.sh", "#!/bin/sh\necho '{}'\n")
	writeFile(t, dir, "node.yaml", `
items:
  - kind: AtomicNode
    uri: urn:kce:node:bad
    preconditions:
      - "this is not sparql {{{"
    invocation:
      kind: SubprocessScript
      scriptPath: script.sh
`)
	_, err := Load(dir)
	require.Error(t, err)
	var defErr *kerrors.DefinitionError
	assert.ErrorAs(t, err, &defErr)
}

func TestLoad_GeneratesURIWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "templates.yaml", `
items:
  - kind: CapabilityTemplate
    label: Anonymous Template
`)
	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Templates, 1)
	assert.NotEmpty(t, loaded.Templates[0].URI)
}

func TestLoad_GeneratedURIsAreStableAcrossRepeatedLoads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "templates.yaml", `
items:
  - kind: CapabilityTemplate
    label: First
  - kind: CapabilityTemplate
    label: Second
`)
	first, err := Load(dir)
	require.NoError(t, err)
	second, err := Load(dir)
	require.NoError(t, err)

	require.Len(t, first.Templates, 2)
	require.Len(t, second.Templates, 2)
	assert.Equal(t, first.Templates[0].URI, second.Templates[0].URI)
	assert.Equal(t, first.Templates[1].URI, second.Templates[1].URI)
	assert.NotEqual(t, first.Templates[0].URI, first.Templates[1].URI)
}

func TestLoad_WorkflowSteps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "wf.yaml", `
items:
  - kind: Workflow
    uri: urn:kce:workflow:onboarding
    workflowContext: urn:kce:ctx:example
    steps:
      - nodeUri: urn:kce:node:a
        order: 1
      - nodeUri: urn:kce:node:b
        order: 2
`)
	loaded, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Workflows, 1)
	assert.Len(t, loaded.Workflows[0].Steps, 2)
	assert.Equal(t, "urn:kce:node:a", loaded.Workflows[0].Steps[0].NodeURI)
}
