// Package domain holds the tagged-variant representations of every
// catalogue and runtime entity the kernel reasons about. These are Go
// structs the rest of the kernel operates on directly; the Knowledge Layer
// is responsible for projecting them to and from triples.
package domain

// ArgumentPassingStyle describes how an AtomicNode's resolved inputs are
// passed to its subprocess script.
type ArgumentPassingStyle string

const (
	NamedCLI      ArgumentPassingStyle = "NamedCLI"
	PositionalCLI ArgumentPassingStyle = "PositionalCLI"
)

// OutputParsingStyle describes how a subprocess script's result is parsed.
// JSONStdout is the only style defined by the MVP contract.
type OutputParsingStyle string

const (
	JSONStdout OutputParsingStyle = "JSONStdout"
)

// InvocationKind discriminates the (currently singleton) set of ways an
// AtomicNode can be invoked. Kept as a tagged variant per the closed-set
// extension pattern: new kinds are added here, never by type-switching on
// concrete struct types elsewhere.
type InvocationKind string

const (
	SubprocessScript InvocationKind = "SubprocessScript"
)

// InvocationSpec describes how to execute an AtomicNode.
type InvocationSpec struct {
	Kind InvocationKind

	// ScriptPath is the absolute, load-time-resolved path to the
	// executable script. Only meaningful when Kind == SubprocessScript.
	ScriptPath           string
	ArgumentPassingStyle ArgumentPassingStyle
	OutputParsingStyle   OutputParsingStyle
}

// Parameter is the shared shape of InputParameter and OutputParameter.
type Parameter struct {
	// Name is unique within the owning AtomicNode.
	Name string
	// MapsToRdfProperty is the property URI this parameter reads from (for
	// inputs) or writes to (for outputs), relative to the operating context.
	MapsToRdfProperty string
	// DataType is an XSD datatype URI or a class URI.
	DataType string
	// IsRequired is false unless the definition sets it, for inputs and
	// outputs alike.
	IsRequired bool
}

// Precondition is a SPARQL ASK query gating node selectability. It must
// have at least one free variable bound to the operating context (?ctx).
type Precondition struct {
	AskQuery string
}

// EffectKind discriminates the three ways an AtomicNode's Effect declares it
// may mutate the graph. Effects describe planner-visible intent only; the
// script plus the _rdf_instructions protocol are authoritative for the
// actual write.
type EffectKind string

const (
	EffectAssertProperty EffectKind = "AssertProperty"
	EffectCreateEntity   EffectKind = "CreateEntity"
	EffectAddLink        EffectKind = "AddLink"
)

// Effect is a declarative statement of what an AtomicNode's execution may
// change, used by the planner for goal-regression analysis.
type Effect struct {
	Kind     EffectKind
	OnEntity string // property URI (AssertProperty/AddLink) or class URI (CreateEntity)
	Property string // populated for AssertProperty and AddLink

	// ValueFromOutput, when non-empty, names the OutputParameter whose
	// value this effect writes; purely descriptive for the planner.
	ValueFromOutput string
}

// AtomicNode is one executable catalogue step.
type AtomicNode struct {
	URI   string
	Label string

	Inputs        []Parameter
	Outputs       []Parameter
	Preconditions []Precondition
	Effects       []Effect
	Invocation    InvocationSpec

	// ImplementsCapability names CapabilityTemplate URIs this node claims
	// to satisfy, each with a mapping from the node's own parameter names
	// to the template's abstract parameter names.
	ImplementsCapability []CapabilityBinding

	// HasExternalSideEffect is carried as inert metadata per the kernel's
	// execution-state provenance, never read by the planner or rule engine.
	HasExternalSideEffect bool
}

// CapabilityBinding ties an AtomicNode's declared I/O to a CapabilityTemplate.
type CapabilityBinding struct {
	TemplateURI string
	// ParamMap maps template abstract parameter name -> node parameter name.
	ParamMap map[string]string
}

// CapabilityTemplate is an abstract I/O signature nodes may claim to
// implement, enabling capability-based lookup by the planner.
type CapabilityTemplate struct {
	URI             string
	Label           string
	InputNames      []string
	OutputNames     []string
}

// Rule is a graph-mutation rule: when Antecedent matches, Consequent is
// applied with the matched bindings substituted.
type Rule struct {
	URI        string
	Antecedent string // SPARQL WHERE pattern (used inside a SELECT by the engine)
	Consequent string // SPARQL UPDATE template, with ?vars substituted from bindings
	Priority   int
	// Critical marks whether a failed consequent UPDATE aborts the run
	// (RuleError{critical}) instead of being reported as a warning.
	Critical bool
}

// WorkflowStep names one AtomicNode in a Workflow's preferred order.
type WorkflowStep struct {
	NodeURI string
	Order   int
}

// Workflow is an optional, linear sequence of node URIs the planner may use
// as a skeleton for a given workflow context, per SPEC_FULL.md's resolution
// of the workflow-skeleton-vs-replanning open question.
type Workflow struct {
	URI             string
	Label           string
	WorkflowContext string
	Steps           []WorkflowStep
}
