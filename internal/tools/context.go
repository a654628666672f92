package tools

import "context"

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	callIDKey    contextKey = "call_id"
)

// WithSessionID adds the session ID to the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns "default" if not set.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok && id != "" {
		return id
	}
	return "default"
}

// WithCallID adds the tool call ID to the context.
func WithCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callIDKey, id)
}

// CallIDFromContext extracts the tool call ID, or "" if not set.
func CallIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(callIDKey).(string)
	return id
}
