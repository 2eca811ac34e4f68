// Package planner is the goal-directed planner (§4.F): a bounded search
// over the catalogue and the live graph with continuous replanning. It
// fires eligible rules to fixpoint, computes a frontier of admissible
// AtomicNodes, and hands the chosen operation to the Plan Executor one
// step at a time until the goal is reached, the frontier empties, or the
// depth budget / state-revisit guard trips.
package planner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/kerrors"
	"kce.dev/kce/internal/kg"
	"kce.dev/kce/internal/obs/logger"
	"kce.dev/kce/internal/planexec"
	"kce.dev/kce/internal/provenance"
)

// DefaultDepthBudget is the default number of node-execution steps a single
// solve is allowed before it fails with PlanningFailure{DepthExhausted}.
const DefaultDepthBudget = 64

// Mode selects whether decision points consult an Oracle.
type Mode string

const (
	ModeUser   Mode = "user"
	ModeExpert Mode = "expert"
)

// Oracle is the expert-mode decision hook: given tied candidate URIs and a
// best-effort state snapshot, it picks one, aborts the run, or accepts a
// specific candidate.
type Oracle interface {
	ChooseCandidate(ctx context.Context, candidates []string, stateSnapshot map[string]any) (Decision, error)
}

// DecisionKind discriminates an Oracle's response.
type DecisionKind int

const (
	DecisionAccept DecisionKind = iota
	DecisionAbort
)

// Decision is an Oracle's response to a tied-candidate prompt.
type Decision struct {
	Kind DecisionKind
	URI  string // populated when Kind == DecisionAccept
}

// DefaultOracle deterministically picks the lexically-first candidate,
// matching the no-oracle tiebreak rule.
type DefaultOracle struct{}

func (DefaultOracle) ChooseCandidate(_ context.Context, candidates []string, _ map[string]any) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{Kind: DecisionAbort}, nil
	}
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	return Decision{Kind: DecisionAccept, URI: sorted[0]}, nil
}

// Catalogue is the subset of a loaded catalogue the planner searches over.
type Catalogue struct {
	Nodes     map[string]domain.AtomicNode
	Rules     map[string]domain.Rule
	Workflows map[string]domain.Workflow // keyed by WorkflowContext
}

// Config bounds a planner's search.
type Config struct {
	DepthBudget int // 0 means DefaultDepthBudget
	Mode        Mode
}

// Planner runs the goal-directed search loop against a Knowledge Layer.
type Planner struct {
	store     *kg.Store
	catalogue Catalogue
	executor  *planexec.Executor
	recorder  *provenance.Recorder
	oracle    Oracle
	cfg       Config
}

func New(store *kg.Store, catalogue Catalogue, executor *planexec.Executor, recorder *provenance.Recorder, oracle Oracle, cfg Config) *Planner {
	if oracle == nil {
		oracle = DefaultOracle{}
	}
	if cfg.DepthBudget == 0 {
		cfg.DepthBudget = DefaultDepthBudget
	}
	return &Planner{store: store, catalogue: catalogue, executor: executor, recorder: recorder, oracle: oracle, cfg: cfg}
}

// failedAt tracks, per state hash, which node URIs have already been tried
// and failed -- so the frontier computation can exclude them without
// refailing the same operation forever.
type failedAt map[string]map[string]bool

// Solve runs the main loop (§4.F) against goal, under workflowContext,
// returning the terminal ExecutionRun. A non-nil error only indicates an
// infrastructure failure (e.g. a QueryError); a planning failure is
// reported via run.Status == Failed with run.FailureReason set, not a Go
// error.
func (p *Planner) Solve(ctx context.Context, goal domain.TargetDescription, workflowContext string) (*domain.ExecutionRun, error) {
	if goal.IsEmpty() {
		return nil, &kerrors.DefinitionError{Detail: "planner goal is empty"}
	}

	goalQuery := goalAskQuery(goal)

	run, err := p.recorder.BeginRun(ctx, goal, workflowContext)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	ctx = logger.WithFields(ctx, logger.Fields{RunID: &run.RunID, WorkflowCtx: &workflowContext, Component: "kce.planner"})

	previousState := ""
	failed := failedAt{}
	seenRevisit := map[string]bool{}
	goalURIs := mentionedURIs(goalQuery)
	depth := 0

	for {
		if err := ctx.Err(); err != nil {
			if endErr := p.recorder.EndRun(ctx, run, domain.RunFailed, (&kerrors.Cancelled{}).Error()); endErr != nil {
				return nil, endErr
			}
			return run, nil
		}

		ok, err := p.store.Ask(ctx, goalQuery)
		if err != nil {
			return nil, fmt.Errorf("evaluate goal: %w", err)
		}
		if ok {
			if _, err := p.recorder.Emit(ctx, run, domain.GoalReached, "", previousState, nil, nil, ""); err != nil {
				return nil, err
			}
			if err := p.recorder.EndRun(ctx, run, domain.RunSucceeded, ""); err != nil {
				return nil, err
			}
			return run, nil
		}

		ruleResult, err := p.executor.Run(ctx, run, domain.Operation{Kind: domain.OpRule}, workflowContext, previousState)
		if err != nil {
			if err := p.recorder.EndRun(ctx, run, domain.RunFailed, err.Error()); err != nil {
				return nil, err
			}
			return run, nil
		}
		previousState = ruleResult.NewState
		if ruleResult.RulesApplied > 0 {
			slog.DebugContext(ctx, "rules fired, replanning", "applied", ruleResult.RulesApplied)
			continue
		}

		frontier := p.computeFrontier(ctx, workflowContext, goalURIs, failed[p.currentStateHash(ctx, workflowContext, goalURIs)])
		if len(frontier) == 0 {
			if _, err := p.recorder.Emit(ctx, run, domain.PlannerDecision, "", previousState, nil, map[string]string{"reason": string(kerrors.NoProgress)}, ""); err != nil {
				return nil, err
			}
			if err := p.recorder.EndRun(ctx, run, domain.RunFailed, fmt.Sprintf("PlanningFailure{%s}", kerrors.NoProgress)); err != nil {
				return nil, err
			}
			return run, nil
		}

		if depth >= p.cfg.DepthBudget {
			if err := p.recorder.EndRun(ctx, run, domain.RunFailed, fmt.Sprintf("PlanningFailure{%s}", kerrors.DepthExhausted)); err != nil {
				return nil, err
			}
			return run, nil
		}

		stateHash := p.currentStateHash(ctx, workflowContext, goalURIs)
		failedSet := failed[stateHash]
		revisitKey := stateHash + "|" + failedSetKey(failedSet)
		if seenRevisit[revisitKey] {
			if err := p.recorder.EndRun(ctx, run, domain.RunFailed, fmt.Sprintf("PlanningFailure{%s}", kerrors.RevisitedFailure)); err != nil {
				return nil, err
			}
			return run, nil
		}
		seenRevisit[revisitKey] = true

		chosen, err := p.chooseCandidate(ctx, frontier, workflowContext)
		if err != nil {
			return nil, err
		}
		if chosen == "" {
			if err := p.recorder.EndRun(ctx, run, domain.RunFailed, fmt.Sprintf("PlanningFailure{%s}", kerrors.NoProgress)); err != nil {
				return nil, err
			}
			return run, nil
		}

		stepResult, err := p.executor.Run(ctx, run, domain.Operation{Kind: domain.OpNode, URI: chosen}, workflowContext, previousState)
		depth++
		if err != nil {
			if failed[stateHash] == nil {
				failed[stateHash] = map[string]bool{}
			}
			failed[stateHash][chosen] = true
			previousState = stepResult.NewState
			continue
		}
		previousState = stepResult.NewState
	}
}

func (p *Planner) chooseCandidate(ctx context.Context, frontier []candidate, workflowContext string) (string, error) {
	ordered := rankCandidates(frontier, p.catalogue.Workflows[workflowContext])

	if len(ordered) == 1 {
		return ordered[0].uri, nil
	}

	// candidates tied at the top rank go to the oracle.
	top := ordered[0]
	var tied []string
	for _, c := range ordered {
		if c.tieKey() == top.tieKey() {
			tied = append(tied, c.uri)
		}
	}
	if len(tied) == 1 {
		return tied[0], nil
	}

	decision, err := p.oracle.ChooseCandidate(ctx, tied, map[string]any{"workflowContext": workflowContext})
	if err != nil {
		return "", fmt.Errorf("oracle: %w", err)
	}
	if decision.Kind == DecisionAbort {
		return "", nil
	}
	return decision.URI, nil
}

// candidate is one frontier member with its tie-break inputs.
type candidate struct {
	uri                string
	workflowOrder       int // -1 if not part of the loaded workflow
	newlySatisfiedCount int
}

func (c candidate) tieKey() string {
	return fmt.Sprintf("%d|%d", c.workflowOrder, -c.newlySatisfiedCount)
}

func rankCandidates(frontier []candidate, workflow domain.Workflow) []candidate {
	ordered := append([]candidate(nil), frontier...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.workflowOrder != b.workflowOrder {
			if a.workflowOrder == -1 {
				return false
			}
			if b.workflowOrder == -1 {
				return true
			}
			return a.workflowOrder < b.workflowOrder
		}
		if a.newlySatisfiedCount != b.newlySatisfiedCount {
			return a.newlySatisfiedCount > b.newlySatisfiedCount
		}
		return a.uri < b.uri
	})
	return ordered
}

// computeFrontier returns every AtomicNode whose precondition holds against
// workflowContext, whose Effects could contribute to the goal (or which is
// named by a loaded Workflow for this context), excluding URIs already
// marked failed for the current state.
func (p *Planner) computeFrontier(ctx context.Context, workflowContext string, goalURIs map[string]bool, failedHere map[string]bool) []candidate {
	workflow, hasWorkflow := p.catalogue.Workflows[workflowContext]
	workflowOrderOf := map[string]int{}
	if hasWorkflow {
		for _, step := range workflow.Steps {
			workflowOrderOf[step.NodeURI] = step.Order
		}
	}

	var out []candidate
	for uri, node := range p.catalogue.Nodes {
		if failedHere[uri] {
			continue
		}

		order, inWorkflow := workflowOrderOf[uri]
		if len(node.Effects) == 0 && !inWorkflow {
			continue // opaque node: only selectable as part of a loaded workflow
		}

		if !p.preconditionsHold(ctx, node, workflowContext) {
			continue
		}

		newlySatisfied := countContribution(node, goalURIs)
		if newlySatisfied == 0 && !inWorkflow {
			continue // not a "could contribute" candidate and not workflow-sanctioned
		}

		wfOrder := -1
		if inWorkflow {
			wfOrder = order
		}
		out = append(out, candidate{uri: uri, workflowOrder: wfOrder, newlySatisfiedCount: newlySatisfied})
	}
	return out
}

func (p *Planner) preconditionsHold(ctx context.Context, node domain.AtomicNode, workflowContext string) bool {
	for _, pre := range node.Preconditions {
		bound := strings.ReplaceAll(pre.AskQuery, "?ctx", fmt.Sprintf("<%s>", workflowContext))
		ok, err := p.store.Ask(ctx, "ASK "+stripLeadingAsk(bound))
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// stripLeadingAsk normalizes a precondition AskQuery stored as just the `{
// ... }` body (the common authoring shape) vs. a full "ASK { ... }" string,
// so both forms parse the same way once "ASK " is prefixed.
func stripLeadingAsk(q string) string {
	trimmed := strings.TrimSpace(q)
	if strings.HasPrefix(strings.ToUpper(trimmed), "ASK") {
		return strings.TrimSpace(trimmed[3:])
	}
	return trimmed
}

func countContribution(node domain.AtomicNode, goalURIs map[string]bool) int {
	count := 0
	for _, eff := range node.Effects {
		if goalURIs[eff.Property] || goalURIs[eff.OnEntity] {
			count++
		}
	}
	return count
}

var iriPattern = regexp.MustCompile(`<([^>]+)>`)

func mentionedURIs(sparqlText string) map[string]bool {
	out := map[string]bool{}
	for _, m := range iriPattern.FindAllStringSubmatch(sparqlText, -1) {
		out[m[1]] = true
	}
	return out
}

func goalAskQuery(goal domain.TargetDescription) string {
	if goal.AskQuery != "" {
		return goal.AskQuery
	}
	var b strings.Builder
	b.WriteString("ASK { ")
	for _, t := range goal.Pattern {
		b.WriteString(termOrVar(t.Subject))
		b.WriteString(" ")
		b.WriteString(termOrVar(t.Predicate))
		b.WriteString(" ")
		b.WriteString(termOrVar(t.Object))
		b.WriteString(" . ")
	}
	b.WriteString("}")
	return b.String()
}

func termOrVar(s string) string {
	if strings.HasPrefix(s, "?") {
		return s
	}
	return fmt.Sprintf("<%s>", s)
}

// currentStateHash is a cheap fingerprint of the goal-relevant subgraph:
// every triple, in any context, whose predicate is an IRI the goal query
// mentions, sorted and hashed. Two planner iterations with the same
// fingerprint have made no goal-relevant progress.
func (p *Planner) currentStateHash(ctx context.Context, workflowContext string, goalURIs map[string]bool) string {
	var lines []string
	for uri := range goalURIs {
		pred := domain.IRI(uri)
		triples, err := p.store.MatchTriples(ctx, domain.MatchPattern{Predicate: &pred})
		if err != nil {
			continue
		}
		for _, t := range triples {
			lines = append(lines, t.Subject.Value+"|"+t.Predicate.Value+"|"+t.Object.Value)
		}
	}
	sort.Strings(lines)
	h := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h[:])
}

func failedSetKey(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
