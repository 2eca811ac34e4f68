package dto

import (
	"time"

	"kce.dev/kce/internal/provenance"
)

// RunStateResponse is one ExecutionStateNode in a run's chain, rendered for
// the introspection surface.
type RunStateResponse struct {
	URI                   string    `json:"uri"`
	EventKind             string    `json:"eventKind"`
	OperationURI          string    `json:"operationUri,omitempty"`
	PreviousState         string    `json:"previousState,omitempty"`
	Timestamp             time.Time `json:"timestamp"`
	InputSnapshotRef      string    `json:"inputSnapshotRef,omitempty"`
	OutputSnapshotRef     string    `json:"outputSnapshotRef,omitempty"`
	HasExternalSideEffect bool      `json:"hasExternalSideEffect"`
	ErrorDetail           string    `json:"errorDetail,omitempty"`
}

// RunResponse is GET /runs/{runId}'s body.
type RunResponse struct {
	RunID           string             `json:"runId"`
	Status          string             `json:"status"`
	Goal            string             `json:"goal"`
	WorkflowContext string             `json:"workflowContext"`
	StartedAt       time.Time          `json:"startedAt"`
	EndedAt         *time.Time         `json:"endedAt,omitempty"`
	FailureReason   string             `json:"failureReason,omitempty"`
	States          []RunStateResponse `json:"states"`
}

// FromSummary projects a provenance.RunSummary into its HTTP shape.
func FromSummary(summary *provenance.RunSummary) RunResponse {
	states := make([]RunStateResponse, 0, len(summary.States))
	for _, s := range summary.States {
		states = append(states, RunStateResponse{
			URI:                   s.URI,
			EventKind:             string(s.EventKind),
			OperationURI:          s.OperationURI,
			PreviousState:         s.PreviousState,
			Timestamp:             s.Timestamp,
			InputSnapshotRef:      s.InputSnapshotRef,
			OutputSnapshotRef:     s.OutputSnapshotRef,
			HasExternalSideEffect: s.HasExternalSideEffect,
			ErrorDetail:           s.ErrorDetail,
		})
	}
	return RunResponse{
		RunID:           summary.Run.RunID,
		Status:          string(summary.Run.Status),
		Goal:            summary.Run.Goal.AskQuery,
		WorkflowContext: summary.Run.WorkflowContext,
		StartedAt:       summary.Run.StartedAt,
		EndedAt:         summary.Run.EndedAt,
		FailureReason:   summary.Run.FailureReason,
		States:          states,
	}
}
