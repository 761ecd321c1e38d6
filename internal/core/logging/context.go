package logging

import "context"

type contextKey string

const (
	issueKey contextKey = "issue"
	runIDKey contextKey = "run_id"
)

// WithIssue adds an issue number to the context.
func WithIssue(ctx context.Context, number int) context.Context {
	return context.WithValue(ctx, issueKey, number)
}

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetIssue retrieves the issue number from the context.
// Returns 0 if not present.
func GetIssue(ctx context.Context) int {
	if n, ok := ctx.Value(issueKey).(int); ok {
		return n
	}
	return 0
}

// GetRunID retrieves the run ID from the context.
// Returns empty string if not present.
func GetRunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}
