// Package kerrors gives every contract-defined failure in the kernel a
// concrete, wrapped Go type, so callers branch on error kind with
// errors.As instead of string matching.
package kerrors

import "fmt"

// DefinitionError signals malformed catalogue input; raised at load time
// and aborts the load.
type DefinitionError struct {
	Detail string
	Cause  error
}

func (e *DefinitionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("definition error: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("definition error: %s", e.Detail)
}

func (e *DefinitionError) Unwrap() error { return e.Cause }

// QueryError signals syntactically invalid SPARQL; raised at use and aborts
// the triggering step.
type QueryError struct {
	Query string
	Cause error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query error: %v (query: %s)", e.Cause, truncate(e.Query, 200))
}

func (e *QueryError) Unwrap() error { return e.Cause }

// MissingInputError signals a required node input was absent; marks the
// node failed, the planner may try another candidate.
type MissingInputError struct {
	NodeURI   string
	ParamName string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing required input %q for node %s", e.ParamName, e.NodeURI)
}

// ScriptError signals a non-zero exit or unparseable stdout; the node is
// marked failed with the stderr tail captured.
type ScriptError struct {
	NodeURI    string
	ExitCode   int
	StderrTail string
	Cause      error
}

func (e *ScriptError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("script error for node %s: %v", e.NodeURI, e.Cause)
	}
	return fmt.Sprintf("script error for node %s: exit code %d: %s", e.NodeURI, e.ExitCode, truncate(e.StderrTail, 500))
}

func (e *ScriptError) Unwrap() error { return e.Cause }

// TimeoutError signals a script or run exceeded its configured timeout. It
// is treated as a ScriptError, plus a Cancelled run status when the
// timeout is run-level rather than per-node.
type TimeoutError struct {
	NodeURI string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s exceeded timeout %s", e.NodeURI, e.Timeout)
}

// RuleError signals a consequent UPDATE failed. Non-critical rules report
// this as a warning and the solve continues; critical rules abort it.
type RuleError struct {
	RuleURI  string
	Critical bool
	Cause    error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule error for %s (critical=%v): %v", e.RuleURI, e.Critical, e.Cause)
}

func (e *RuleError) Unwrap() error { return e.Cause }

// PlanningFailureReason discriminates why the planner gave up.
type PlanningFailureReason string

const (
	NoProgress       PlanningFailureReason = "NoProgress"
	DepthExhausted   PlanningFailureReason = "DepthExhausted"
	RevisitedFailure PlanningFailureReason = "RevisitedFailure"
)

// PlanningFailure signals the planner's frontier was empty, its depth
// budget was exhausted, or it revisited a known-failed state; the run ends
// Failed with this reason.
type PlanningFailure struct {
	Reason PlanningFailureReason
}

func (e *PlanningFailure) Error() string {
	return fmt.Sprintf("planning failure: %s", e.Reason)
}

// Cancelled signals an external cancel() call terminated the run; it ends
// Failed with reason Cancelled.
type Cancelled struct {
	Detail string
}

func (e *Cancelled) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("cancelled: %s", e.Detail)
	}
	return "cancelled"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
