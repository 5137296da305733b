package logging

import (
	"context"
	"log/slog"

	"conduit/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for subsystem or component names.
	FieldComponent = "component"
	// FieldAvatarID is the standardized structured logging key for avatar identifiers.
	FieldAvatarID = "avatar_id"
	// FieldHeaven is the standardized structured logging key for the heaven handling a request.
	FieldHeaven = "heaven"
	// FieldFeed is the standardized structured logging key for qualified feed names.
	FieldFeed = "feed"
	// FieldMood is the standardized structured logging key for component moods.
	FieldMood = "mood"
	// FieldKeycardID is the standardized structured logging key for keycard identifiers.
	FieldKeycardID = "keycard_id"
	// FieldMethod is the standardized structured logging key for remote method names.
	FieldMethod = "method"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a record for alerting and filtering.
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.AvatarIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldAvatarID, id))
	}
	if heaven, ok := services.HeavenFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldHeaven, heaven))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
