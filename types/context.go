package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyTraceID   contextKey = "trace_id"
	keyRunID     contextKey = "run_id"
	keyPageType  contextKey = "page_type"
	keyElementID contextKey = "element_id"
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

// WithRunID adds the automation run ID to context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, keyRunID, runID)
}

// RunID extracts the automation run ID from context.
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRunID).(string)
	return v, ok && v != ""
}

// WithPageType adds the logical page type (e.g. "login") to context.
func WithPageType(ctx context.Context, pageType string) context.Context {
	return context.WithValue(ctx, keyPageType, pageType)
}

// PageType extracts the logical page type from context.
func PageType(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyPageType).(string)
	return v, ok && v != ""
}

// WithElementID adds the element identifier being resolved to context.
func WithElementID(ctx context.Context, id ElementID) context.Context {
	return context.WithValue(ctx, keyElementID, id)
}

// ElementIDFrom extracts the element identifier from context.
func ElementIDFrom(ctx context.Context) (ElementID, bool) {
	v, ok := ctx.Value(keyElementID).(ElementID)
	return v, ok && v != ""
}
