package services

import "context"

type contextKey string

const (
	avatarIDKey  contextKey = "avatar_id"
	heavenKey    contextKey = "heaven"
	requestIDKey contextKey = "request_id"
)

// WithAvatarID annotates context with the avatar the work is performed for.
func WithAvatarID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, avatarIDKey, id)
}

// AvatarIDFromContext extracts the avatar identifier if present.
func AvatarIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(avatarIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithHeaven annotates context with the heaven (worker, component, admin, job) handling a request.
func WithHeaven(ctx context.Context, heaven string) context.Context {
	if heaven == "" {
		return ctx
	}
	return context.WithValue(ctx, heavenKey, heaven)
}

// HeavenFromContext returns the heaven name if present.
func HeavenFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(heavenKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
