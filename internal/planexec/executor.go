// Package planexec is the Plan Executor (§4.E): it runs one
// planner-selected Operation at a time, dispatching it to the Node
// Executor or the Rule Engine and chaining provenance state nodes as it
// goes; a failing step leaves its partial mutations in place. The caller
// sequences steps; there is no entry point that takes a whole list.
package planexec

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/kg"
	"kce.dev/kce/internal/nodeexec"
	"kce.dev/kce/internal/provenance"
	"kce.dev/kce/internal/rules"
)

// Catalogue is the subset of the loaded catalogue the executor needs to
// resolve an Operation's URI to its definition.
type Catalogue struct {
	Nodes map[string]domain.AtomicNode
	Rules map[string]domain.Rule
}

// Executor drives a single operation at a time; the planner decides what
// sequence of operations to submit (it may interleave planning and
// execution, per §4.F's continuous-replanning loop).
type Executor struct {
	store     *kg.Store
	nodeexec  *nodeexec.Executor
	recorder  *provenance.Recorder
	catalogue Catalogue
	fired     map[string]bool
}

func New(store *kg.Store, nx *nodeexec.Executor, recorder *provenance.Recorder, catalogue Catalogue) *Executor {
	return &Executor{store: store, nodeexec: nx, recorder: recorder, catalogue: catalogue, fired: map[string]bool{}}
}

// StepResult carries what a single Run call produced, for the planner's
// state-regression bookkeeping.
type StepResult struct {
	PreviousState string
	NewState      string
	RulesApplied  int
}

// Run executes one Operation against workflowContext, within run. It
// returns the resulting ExecutionStateNode URI (for chaining into the next
// step's PreviousState) or an error if the step failed -- the caller is
// responsible for deciding whether that ends the overall run.
func (e *Executor) Run(ctx context.Context, run *domain.ExecutionRun, op domain.Operation, workflowContext, previousState string) (StepResult, error) {
	switch op.Kind {
	case domain.OpNode:
		return e.runNode(ctx, run, op.URI, workflowContext, previousState)
	case domain.OpRule:
		return e.runRules(ctx, run, workflowContext, previousState)
	default:
		return StepResult{}, fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func (e *Executor) runNode(ctx context.Context, run *domain.ExecutionRun, nodeURI, workflowContext, previousState string) (StepResult, error) {
	node, ok := e.catalogue.Nodes[nodeURI]
	if !ok {
		return StepResult{}, fmt.Errorf("unknown node %q", nodeURI)
	}

	startNode, err := e.recorder.Emit(ctx, run, domain.NodeStarted, nodeURI, previousState, nil, nil, "")
	if err != nil {
		return StepResult{}, err
	}

	result, execErr := e.nodeexec.Execute(ctx, node, workflowContext)
	if execErr != nil {
		failNode, emitErr := e.recorder.Emit(ctx, run, domain.NodeFailed, nodeURI, startNode.URI, nil, nil, execErr.Error())
		if emitErr != nil {
			return StepResult{}, emitErr
		}
		return StepResult{PreviousState: startNode.URI, NewState: failNode.URI}, execErr
	}

	touched, err := e.applyResult(ctx, workflowContext, result)
	if err != nil {
		return StepResult{}, fmt.Errorf("apply node result: %w", err)
	}

	okNode, err := e.recorder.Emit(ctx, run, domain.NodeSucceeded, nodeURI, startNode.URI, result.Inputs, result.Outputs, "")
	if err != nil {
		return StepResult{}, err
	}
	for entity := range touched {
		if err := e.recorder.LinkWasGeneratedBy(ctx, entity, okNode.URI); err != nil {
			return StepResult{}, err
		}
	}

	return StepResult{PreviousState: startNode.URI, NewState: okNode.URI}, nil
}

// applyResult writes a node invocation's declared-output triples plus its
// _rdf_instructions, in that order: declared outputs describe the
// planner-visible contract, _rdf_instructions is the authoritative
// supplement/override for anything the script additionally asserts. It
// returns the set of entity URIs every written triple's subject named, so
// the caller can stamp each with wasGeneratedBy the node's success state.
func (e *Executor) applyResult(ctx context.Context, workflowContext string, result *nodeexec.Result) (map[string]bool, error) {
	touched := map[string]bool{}

	if len(result.OutputTriples) > 0 {
		if err := e.store.AddTriples(ctx, result.OutputTriples); err != nil {
			return nil, err
		}
		for _, tr := range result.OutputTriples {
			touched[tr.Subject.Value] = true
		}
	}

	instr := result.RDFInstructions
	for _, ce := range instr.CreateEntities {
		triples := []domain.Triple{
			{Subject: domain.IRI(ce.URI), Predicate: domain.IRI(domain.RDFType), Object: domain.IRI(ce.Type), Context: workflowContext},
		}
		for prop, val := range ce.Properties {
			triples = append(triples, domain.Triple{Subject: domain.IRI(ce.URI), Predicate: domain.IRI(prop), Object: literalFromAny(val), Context: workflowContext})
		}
		if err := e.store.AddTriples(ctx, triples); err != nil {
			return nil, err
		}
		touched[ce.URI] = true
	}

	for _, ue := range instr.UpdateEntities {
		for prop, val := range ue.PropertiesToSet {
			existing, err := e.store.MatchTriples(ctx, domain.MatchPattern{
				Subject:   ptr(domain.IRI(ue.URI)),
				Predicate: ptr(domain.IRI(prop)),
			})
			if err != nil {
				return nil, err
			}
			if len(existing) > 0 {
				if err := e.store.DeleteTriples(ctx, existing); err != nil {
					return nil, err
				}
			}
			if err := e.store.AddTriples(ctx, []domain.Triple{
				{Subject: domain.IRI(ue.URI), Predicate: domain.IRI(prop), Object: literalFromAny(val), Context: workflowContext},
			}); err != nil {
				return nil, err
			}
		}
		touched[ue.URI] = true
	}

	for _, link := range instr.AddLinks {
		if err := e.store.AddTriples(ctx, []domain.Triple{
			{Subject: domain.IRI(link.Subject), Predicate: domain.IRI(link.Predicate), Object: domain.IRI(link.Object), Context: workflowContext},
		}); err != nil {
			return nil, err
		}
		touched[link.Subject] = true
	}

	return touched, nil
}

func (e *Executor) runRules(ctx context.Context, run *domain.ExecutionRun, workflowContext, previousState string) (StepResult, error) {
	catalogueRules := make([]domain.Rule, 0, len(e.catalogue.Rules))
	for _, r := range e.catalogue.Rules {
		catalogueRules = append(catalogueRules, r)
	}

	applied, err := rules.Apply(ctx, e.store, catalogueRules, e.fired)
	if err != nil {
		failNode, emitErr := e.recorder.Emit(ctx, run, domain.RuleFired, "", previousState, nil, nil, err.Error())
		if emitErr != nil {
			return StepResult{}, emitErr
		}
		return StepResult{PreviousState: previousState, NewState: failNode.URI}, err
	}

	decisionNode, err := e.recorder.Emit(ctx, run, domain.RuleFired, "", previousState, nil, map[string]int{"applied": applied}, "")
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{PreviousState: previousState, NewState: decisionNode.URI, RulesApplied: applied}, nil
}

// curiePattern matches an absolute IRI or a CURIE-shaped string: a scheme or
// prefix token followed by ":" and a non-empty local part, e.g.
// "http://example.org/x", "urn:kce:entity:thing1", "ex:Panel".
var curiePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:\S+$`)

// literalFromAny converts a _rdf_instructions property value into a
// domain.Term. Per §4.D, a string that is an absolute http(s):// IRI or is
// otherwise CURIE-resolvable becomes a URI reference rather than a literal.
func literalFromAny(v any) domain.Term {
	switch val := v.(type) {
	case string:
		if isURIValue(val) {
			return domain.IRI(val)
		}
		return domain.Literal(val, domain.XSDString)
	case bool:
		return domain.Literal(fmt.Sprintf("%t", val), domain.XSDBoolean)
	case float64:
		return domain.Literal(fmt.Sprintf("%g", val), domain.XSDDouble)
	default:
		return domain.Literal(fmt.Sprintf("%v", val), domain.XSDString)
	}
}

func isURIValue(s string) bool {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return true
	}
	return curiePattern.MatchString(s)
}

func ptr[T any](v T) *T { return &v }
