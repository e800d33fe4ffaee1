package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID   contextKey = "trace_id"
	keyRunID     contextKey = "run_id"
	keyIteration contextKey = "iteration"
)

// WithTraceID adds trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithRunID adds the research run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts the research run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithIteration records the coordinator iteration that issued a call.
func WithIteration(ctx context.Context, iteration int) context.Context {
	return context.WithValue(ctx, keyIteration, iteration)
}

// Iteration extracts the coordinator iteration from context.
func Iteration(ctx context.Context) (int, bool) {
	v, ok := ctx.Value(keyIteration).(int)
	return v, ok
}
