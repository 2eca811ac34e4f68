// Package provenance is the Provenance Recorder (§4.E): it persists
// ExecutionRun metadata and a chained ExecutionStateNode history into the
// Knowledge Layer itself, so a run's audit trail is just another part of
// the graph, queryable with the same SPARQL-lite surface as everything
// else.
package provenance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"kce.dev/kce/internal/domain"
	"kce.dev/kce/internal/id"
	"kce.dev/kce/internal/kg"
)

// Provenance vocabulary, kept local to this package: the rest of the
// kernel never needs to know these predicate URIs directly.
const (
	predRunStatus      = "urn:kce:prov:hasRunStatus"
	predRunGoal        = "urn:kce:prov:hasGoalQuery"
	predRunWorkflowCtx = "urn:kce:prov:hasWorkflowContext"
	predRunStartedAt   = "urn:kce:prov:startedAt"
	predRunEndedAt     = "urn:kce:prov:endedAt"
	predRunFailure     = "urn:kce:prov:failureReason"

	predStateRun          = "urn:kce:prov:hasRun"
	predStateEventKind    = "urn:kce:prov:hasEventKind"
	predStateOperation    = "urn:kce:prov:hasOperation"
	predStatePrevious     = "urn:kce:prov:previousState"
	predStateTimestamp    = "urn:kce:prov:timestamp"
	predStateInputRef     = "urn:kce:prov:inputSnapshotRef"
	predStateOutputRef    = "urn:kce:prov:outputSnapshotRef"
	predStateLogRef       = "urn:kce:prov:humanReadableLogRef"
	predStateExternalFx   = "urn:kce:prov:hasExternalSideEffect"
	predStateErrorDetail  = "urn:kce:prov:errorDetail"
	predWasGeneratedBy    = "urn:kce:prov:wasGeneratedBy"

	classExecutionRun       = "urn:kce:prov:ExecutionRun"
	classExecutionStateNode = "urn:kce:prov:ExecutionStateNode"

	runsContext = "urn:kce:prov:runs"
)

// Publisher mirrors a recorded state node onto an out-of-band channel (see
// internal/runbus). The graph write above is always authoritative; a
// Publisher failure is logged and never fails Emit.
type Publisher interface {
	PublishStateNode(ctx context.Context, node domain.ExecutionStateNode) error
}

// Recorder persists run and state-node provenance into a Store.
type Recorder struct {
	store     *kg.Store
	publisher Publisher
}

func New(store *kg.Store) *Recorder {
	return &Recorder{store: store}
}

// SetPublisher attaches an optional fan-out Publisher; nil disables fan-out.
func (r *Recorder) SetPublisher(p Publisher) {
	r.publisher = p
}

// BeginRun creates and persists a new ExecutionRun in the Running state.
func (r *Recorder) BeginRun(ctx context.Context, goal domain.TargetDescription, workflowContext string) (*domain.ExecutionRun, error) {
	run := &domain.ExecutionRun{
		RunID:           id.NewString(),
		StartedAt:       time.Now(),
		Status:          domain.RunRunning,
		Goal:            goal,
		WorkflowContext: workflowContext,
	}

	subject := domain.IRI(runURI(run.RunID))
	triples := []domain.Triple{
		{Subject: subject, Predicate: domain.IRI(domain.RDFType), Object: domain.IRI(classExecutionRun), Context: runsContext},
		{Subject: subject, Predicate: domain.IRI(predRunStatus), Object: domain.Literal(string(run.Status), domain.XSDString), Context: runsContext},
		{Subject: subject, Predicate: domain.IRI(predRunGoal), Object: domain.Literal(goal.AskQuery, domain.XSDString), Context: runsContext},
		{Subject: subject, Predicate: domain.IRI(predRunWorkflowCtx), Object: domain.IRI(workflowContext), Context: runsContext},
		{Subject: subject, Predicate: domain.IRI(predRunStartedAt), Object: domain.Literal(run.StartedAt.Format(time.RFC3339Nano), domain.XSDDateTime), Context: runsContext},
	}
	if err := r.store.AddTriples(ctx, triples); err != nil {
		return nil, fmt.Errorf("persist run start: %w", err)
	}
	return run, nil
}

// EndRun marks a run terminal and records its failure reason, if any.
func (r *Recorder) EndRun(ctx context.Context, run *domain.ExecutionRun, status domain.RunStatus, failureReason string) error {
	now := time.Now()
	run.Status = status
	run.EndedAt = &now
	run.FailureReason = failureReason

	subject := domain.IRI(runURI(run.RunID))
	triples := []domain.Triple{
		{Subject: subject, Predicate: domain.IRI(predRunStatus), Object: domain.Literal(string(status), domain.XSDString), Context: runsContext},
		{Subject: subject, Predicate: domain.IRI(predRunEndedAt), Object: domain.Literal(now.Format(time.RFC3339Nano), domain.XSDDateTime), Context: runsContext},
	}
	if failureReason != "" {
		triples = append(triples, domain.Triple{Subject: subject, Predicate: domain.IRI(predRunFailure), Object: domain.Literal(failureReason, domain.XSDString), Context: runsContext})
	}
	return r.store.AddTriples(ctx, triples)
}

// Emit records one ExecutionStateNode, chained to previousState, with
// optional input/output snapshots persisted as blobs.
func (r *Recorder) Emit(ctx context.Context, run *domain.ExecutionRun, kind domain.EventKind, operationURI, previousState string, input, output any, errDetail string) (*domain.ExecutionStateNode, error) {
	node := &domain.ExecutionStateNode{
		URI:           stateURI(id.NewString()),
		RunID:         run.RunID,
		Timestamp:     time.Now(),
		EventKind:     kind,
		OperationURI:  operationURI,
		PreviousState: previousState,
		ErrorDetail:   errDetail,
	}

	if input != nil {
		ref, err := r.storeSnapshot(ctx, run.RunID, node.URI+"-input", input)
		if err != nil {
			return nil, err
		}
		node.InputSnapshotRef = ref
	}
	if output != nil {
		ref, err := r.storeSnapshot(ctx, run.RunID, node.URI+"-output", output)
		if err != nil {
			return nil, err
		}
		node.OutputSnapshotRef = ref
	}

	subject := domain.IRI(node.URI)
	triples := []domain.Triple{
		{Subject: subject, Predicate: domain.IRI(domain.RDFType), Object: domain.IRI(classExecutionStateNode), Context: runsContext},
		{Subject: subject, Predicate: domain.IRI(predStateRun), Object: domain.IRI(runURI(run.RunID)), Context: runsContext},
		{Subject: subject, Predicate: domain.IRI(predStateEventKind), Object: domain.Literal(string(kind), domain.XSDString), Context: runsContext},
		{Subject: subject, Predicate: domain.IRI(predStateTimestamp), Object: domain.Literal(node.Timestamp.Format(time.RFC3339Nano), domain.XSDDateTime), Context: runsContext},
	}
	if operationURI != "" {
		triples = append(triples, domain.Triple{Subject: subject, Predicate: domain.IRI(predStateOperation), Object: domain.IRI(operationURI), Context: runsContext})
	}
	if previousState != "" {
		triples = append(triples, domain.Triple{Subject: subject, Predicate: domain.IRI(predStatePrevious), Object: domain.IRI(previousState), Context: runsContext})
	}
	if node.InputSnapshotRef != "" {
		triples = append(triples, domain.Triple{Subject: subject, Predicate: domain.IRI(predStateInputRef), Object: domain.Literal(node.InputSnapshotRef, domain.XSDString), Context: runsContext})
	}
	if node.OutputSnapshotRef != "" {
		triples = append(triples, domain.Triple{Subject: subject, Predicate: domain.IRI(predStateOutputRef), Object: domain.Literal(node.OutputSnapshotRef, domain.XSDString), Context: runsContext})
	}
	if errDetail != "" {
		triples = append(triples, domain.Triple{Subject: subject, Predicate: domain.IRI(predStateErrorDetail), Object: domain.Literal(errDetail, domain.XSDString), Context: runsContext})
	}

	if err := r.store.AddTriples(ctx, triples); err != nil {
		return nil, fmt.Errorf("persist state node: %w", err)
	}

	if r.publisher != nil {
		if err := r.publisher.PublishStateNode(ctx, *node); err != nil {
			slog.WarnContext(ctx, "runbus publish failed, state node is still persisted in the graph", "error", err, "state_uri", node.URI)
		}
	}

	return node, nil
}

// LinkWasGeneratedBy records that entityURI's current value was produced by
// the node invocation recorded at stateURI.
func (r *Recorder) LinkWasGeneratedBy(ctx context.Context, entityURI, stateURI string) error {
	return r.store.AddTriples(ctx, []domain.Triple{
		{Subject: domain.IRI(entityURI), Predicate: domain.IRI(predWasGeneratedBy), Object: domain.IRI(stateURI), Context: runsContext},
	})
}

// RunSummary is a read-only projection of one run and its state chain, for
// the HTTP introspection surface and CLI show-log command.
type RunSummary struct {
	Run    domain.ExecutionRun
	States []domain.ExecutionStateNode
}

// DescribeRun reconstructs a RunSummary for runID straight from the graph;
// it is the only read path provenance exposes beyond raw SPARQL, since the
// graph is the sole source of truth (§3).
func (r *Recorder) DescribeRun(ctx context.Context, runID string) (*RunSummary, error) {
	runSubject := domain.IRI(runURI(runID))
	runTriples, err := r.store.MatchTriples(ctx, domain.MatchPattern{Subject: &runSubject})
	if err != nil {
		return nil, fmt.Errorf("describe run: match run triples: %w", err)
	}
	if len(runTriples) == 0 {
		return nil, fmt.Errorf("describe run: no run found for %q", runID)
	}

	run := domain.ExecutionRun{RunID: runID}
	for _, t := range runTriples {
		switch t.Predicate.Value {
		case predRunStatus:
			run.Status = domain.RunStatus(t.Object.Value)
		case predRunGoal:
			run.Goal = domain.TargetDescription{AskQuery: t.Object.Value}
		case predRunWorkflowCtx:
			run.WorkflowContext = t.Object.Value
		case predRunStartedAt:
			if ts, err := time.Parse(time.RFC3339Nano, t.Object.Value); err == nil {
				run.StartedAt = ts
			}
		case predRunEndedAt:
			if ts, err := time.Parse(time.RFC3339Nano, t.Object.Value); err == nil {
				run.EndedAt = &ts
			}
		case predRunFailure:
			run.FailureReason = t.Object.Value
		}
	}

	runPred := domain.IRI(predStateRun)
	runRef := domain.IRI(runURI(runID))
	stateLinks, err := r.store.MatchTriples(ctx, domain.MatchPattern{Predicate: &runPred, Object: &runRef})
	if err != nil {
		return nil, fmt.Errorf("describe run: match state links: %w", err)
	}

	states := make([]domain.ExecutionStateNode, 0, len(stateLinks))
	for _, link := range stateLinks {
		node, err := r.describeStateNode(ctx, link.Subject.Value, runID)
		if err != nil {
			return nil, err
		}
		states = append(states, node)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Timestamp.Before(states[j].Timestamp) })

	return &RunSummary{Run: run, States: states}, nil
}

func (r *Recorder) describeStateNode(ctx context.Context, stateSubjectURI, runID string) (domain.ExecutionStateNode, error) {
	subject := domain.IRI(stateSubjectURI)
	triples, err := r.store.MatchTriples(ctx, domain.MatchPattern{Subject: &subject})
	if err != nil {
		return domain.ExecutionStateNode{}, fmt.Errorf("describe state node %q: %w", stateSubjectURI, err)
	}

	node := domain.ExecutionStateNode{URI: stateSubjectURI, RunID: runID}
	for _, t := range triples {
		switch t.Predicate.Value {
		case predStateEventKind:
			node.EventKind = domain.EventKind(t.Object.Value)
		case predStateOperation:
			node.OperationURI = t.Object.Value
		case predStatePrevious:
			node.PreviousState = t.Object.Value
		case predStateTimestamp:
			if ts, err := time.Parse(time.RFC3339Nano, t.Object.Value); err == nil {
				node.Timestamp = ts
			}
		case predStateInputRef:
			node.InputSnapshotRef = t.Object.Value
		case predStateOutputRef:
			node.OutputSnapshotRef = t.Object.Value
		case predStateLogRef:
			node.HumanReadableLogRef = t.Object.Value
		case predStateExternalFx:
			node.HasExternalSideEffect = t.Object.Value == "true"
		case predStateErrorDetail:
			node.ErrorDetail = t.Object.Value
		}
	}
	return node, nil
}

func (r *Recorder) storeSnapshot(ctx context.Context, runID, eventID string, payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return r.store.StoreHumanReadable(ctx, runID, eventID, b)
}

func runURI(runID string) string   { return "urn:kce:run:" + runID }
func stateURI(stateID string) string { return "urn:kce:state:" + stateID }
