package services

import "context"

type contextKey string

const (
	globalKeyKey contextKey = "global_key"
	sessionIDKey contextKey = "session_id"
)

// WithGlobalKey annotates context with the download's global key.
func WithGlobalKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, globalKeyKey, key)
}

// GlobalKeyFromContext extracts the download's global key if present.
func GlobalKeyFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(globalKeyKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithSessionID annotates context with a per-transfer session identifier.
func WithSessionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionIDFromContext extracts the per-transfer session identifier if present.
func SessionIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(sessionIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
