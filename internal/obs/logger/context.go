package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// Fields contains structured fields automatically added to all logs within a
// context. Fields flow through context enrichment, so kernel components never
// have to thread a runId/operationUri into every slog call by hand.
type Fields struct {
	RunID        *string // active ExecutionRun id
	OperationURI *string // AtomicNode or Rule URI currently being evaluated
	WorkflowCtx  *string // operating context URI
	Component    string  // e.g. "kce.planner", "kce.nodeexec"
}

// WithFields enriches context with structured log fields. Multiple calls
// merge fields, with newer non-nil/non-empty values taking precedence.
func WithFields(ctx context.Context, fields Fields) context.Context {
	merged := mergeFields(GetFields(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetFields retrieves log fields from context, or a zero value if none are set.
func GetFields(ctx context.Context) Fields {
	if fields, ok := ctx.Value(logFieldsKey).(Fields); ok {
		return fields
	}
	return Fields{}
}

func mergeFields(existing, next Fields) Fields {
	result := existing
	if next.RunID != nil {
		result.RunID = next.RunID
	}
	if next.OperationURI != nil {
		result.OperationURI = next.OperationURI
	}
	if next.WorkflowCtx != nil {
		result.WorkflowCtx = next.WorkflowCtx
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	return result
}

// Ptr is a helper to create a pointer from a value, for inline Fields literals.
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Used for logging stderr tails and query strings.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
