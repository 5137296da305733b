package services

import (
	"errors"
	"strings"
)

// Markers classify failures. They travel across the wire as error kinds, so
// a caller can test a remote failure with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// LifecycleError is a failure in one step of a component's life: where it
// happened (Scope, Op), what went wrong (Message), its class (Marker) and
// the underlying cause, if any.
type LifecycleError struct {
	Marker  error
	Scope   string
	Op      string
	Message string
	Err     error
}

func (e *LifecycleError) Error() string {
	parts := []string{e.Marker.Error()}
	for _, part := range []string{e.Scope, e.Op, e.Message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 1 {
		parts = append(parts, "lifecycle failure")
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap exposes both the marker and the cause to errors.Is.
func (e *LifecycleError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Err}
}

// Wrap returns a LifecycleError. A nil marker means ErrTransient.
func Wrap(marker error, scope, op, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &LifecycleError{Marker: marker, Scope: scope, Op: op, Message: message, Err: err}
}
