package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// Handler serves one remote method.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Handlers maps method names to handlers.
type Handlers map[string]Handler

// Bind adapts a typed function to a Handler. Empty parameters decode to the
// zero value of P.
func Bind[P, R any](fn func(ctx context.Context, params P) (R, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params P
		if len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
			}
		}
		return fn(ctx, params)
	}
}

// Merge returns a copy of h with every entry of other added. Entries in other
// win.
func (h Handlers) Merge(other Handlers) Handlers {
	out := maps.Clone(h)
	if out == nil {
		out = make(Handlers, len(other))
	}
	maps.Copy(out, other)
	return out
}

// Methods returns the sorted method names.
func (h Handlers) Methods() []string {
	return slices.Sorted(maps.Keys(h))
}

// Dispatch runs the handler for method and encodes its result.
func (h Handlers) Dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	handler, ok := h[method]
	if !ok {
		return nil, &UnknownMethodError{Method: method}
	}
	result, err := handler(ctx, params)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", method, err)
	}
	return encoded, nil
}
