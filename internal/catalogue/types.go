package catalogue

// These types mirror the external YAML definition-document and
// initial-state-document formats (§6); the loader decodes into them before
// projecting to domain entities and triples.

type DefinitionDocument struct {
	Items []DefinitionItem `yaml:"items"`
}

// DefinitionItem is one polymorphic catalogue entry. Only the fields
// relevant to its Kind are populated; unknown fields are dropped by
// yaml.v3's default decode behavior (no KnownFields strictness). No warning
// is logged for them.
type DefinitionItem struct {
	Kind string `yaml:"kind"`
	URI  string `yaml:"uri"`
	Label string `yaml:"label"`

	// AtomicNode fields.
	Inputs                []ParameterDoc   `yaml:"inputs"`
	Outputs                []ParameterDoc   `yaml:"outputs"`
	Preconditions          []string         `yaml:"preconditions"`
	Effects                []EffectDoc      `yaml:"effects"`
	Invocation             *InvocationDoc   `yaml:"invocation"`
	ImplementsCapability   []CapabilityBindingDoc `yaml:"implementsCapability"`
	HasExternalSideEffect  bool             `yaml:"hasExternalSideEffect"`

	// Rule fields.
	Antecedent string `yaml:"antecedent"`
	Consequent string `yaml:"consequent"`
	Priority   int    `yaml:"priority"`
	Critical   bool   `yaml:"critical"`

	// CapabilityTemplate fields.
	InputNames  []string `yaml:"inputNames"`
	OutputNames []string `yaml:"outputNames"`

	// Workflow fields.
	WorkflowContext string              `yaml:"workflowContext"`
	Steps           []WorkflowStepDoc   `yaml:"steps"`
}

// ParameterDoc.Required defaults to false (YAML zero value); authors must
// set `required: true` explicitly for mandatory inputs.
type ParameterDoc struct {
	Name     string `yaml:"name"`
	Property string `yaml:"property"`
	DataType string `yaml:"dataType"`
	Required bool   `yaml:"required"`
}

type EffectDoc struct {
	Kind            string `yaml:"kind"`
	OnEntity        string `yaml:"onEntity"`
	Property        string `yaml:"property"`
	ValueFromOutput string `yaml:"valueFromOutput"`
}

type InvocationDoc struct {
	Kind                 string `yaml:"kind"`
	ScriptPath           string `yaml:"scriptPath"`
	ArgumentPassingStyle string `yaml:"argumentPassingStyle"`
	OutputParsingStyle   string `yaml:"outputParsingStyle"`
}

type CapabilityBindingDoc struct {
	TemplateURI string            `yaml:"templateUri"`
	ParamMap    map[string]string `yaml:"paramMap"`
}

type WorkflowStepDoc struct {
	NodeURI string `yaml:"nodeUri"`
	Order   int    `yaml:"order"`
}

// InitialStateDocument enumerates entities with URIs, types, and
// property/value pairs, under a caller-named base URI (used as the fresh
// workflowContext).
type InitialStateDocument struct {
	Entities []EntityDoc `yaml:"entities"`
}

type EntityDoc struct {
	URI        string                `yaml:"uri"`
	Type       string                `yaml:"type"`
	Properties map[string]ValueDoc   `yaml:"properties"`
}

// ValueDoc distinguishes literals from references per §6: carries either
// {value, type} or {ref}.
type ValueDoc struct {
	Value string `yaml:"value"`
	Type  string `yaml:"type"`
	Ref   string `yaml:"ref"`
}

func (v ValueDoc) IsRef() bool { return v.Ref != "" }

// TargetDocument is a target description per §6: either a direct SPARQL ASK
// query, or a ground-or-variable triple pattern evaluated as an ASK with its
// variables existentially quantified.
type TargetDocument struct {
	AskQuery string             `yaml:"askQuery"`
	Pattern  []PatternTripleDoc `yaml:"pattern"`
}

type PatternTripleDoc struct {
	Subject   string `yaml:"subject"`
	Predicate string `yaml:"predicate"`
	Object    string `yaml:"object"`
}
