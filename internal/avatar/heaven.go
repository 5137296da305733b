package avatar

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/reactor"
)

// Factory builds the avatar for a new login.
type Factory[A Avatar] func(id string) (A, error)

// Heaven is the registry of every avatar of one kind. All methods run on the
// owning loop.
type Heaven[A Avatar] struct {
	name    string
	loop    *reactor.Loop
	logger  *slog.Logger
	factory Factory[A]
	avatars map[string]A
}

// NewHeaven returns an empty heaven.
func NewHeaven[A Avatar](loop *reactor.Loop, name string, logger *slog.Logger, factory Factory[A]) *Heaven[A] {
	return &Heaven[A]{
		name:    name,
		loop:    loop,
		logger:  logging.NewComponentLogger(logger, name),
		factory: factory,
		avatars: make(map[string]A),
	}
}

func (h *Heaven[A]) Name() string { return h.name }

// CreateAvatar builds and indexes the avatar for id.
func (h *Heaven[A]) CreateAvatar(id string) (A, error) {
	var zero A
	if _, exists := h.avatars[id]; exists {
		return zero, fmt.Errorf("%w: %s %q", ErrAlreadyConnected, h.name, id)
	}
	a, err := h.factory(id)
	if err != nil {
		return zero, fmt.Errorf("create %s avatar %q: %w", h.name, id, err)
	}
	h.avatars[id] = a
	h.logger.Debug("avatar created", logging.String(logging.FieldAvatarID, id))
	return a, nil
}

// RemoveAvatar drops the avatar for id.
func (h *Heaven[A]) RemoveAvatar(id string) error {
	if _, exists := h.avatars[id]; !exists {
		return fmt.Errorf("%w: %s %q", ErrNotFound, h.name, id)
	}
	delete(h.avatars, id)
	h.logger.Debug("avatar removed", logging.String(logging.FieldAvatarID, id))
	return nil
}

// Get returns the avatar for id.
func (h *Heaven[A]) Get(id string) (A, bool) {
	a, ok := h.avatars[id]
	return a, ok
}

// IDs returns the sorted avatar ids.
func (h *Heaven[A]) IDs() []string {
	return slices.Sorted(maps.Keys(h.avatars))
}

// List returns the avatars sorted by id.
func (h *Heaven[A]) List() []A {
	out := make([]A, 0, len(h.avatars))
	for _, id := range h.IDs() {
		out = append(out, h.avatars[id])
	}
	return out
}

func (h *Heaven[A]) Len() int { return len(h.avatars) }

// RequestAvatar creates the avatar for a login and schedules Attached for the
// next loop turn.
func (h *Heaven[A]) RequestAvatar(id string, mind ipc.Mind) (ipc.Handlers, error) {
	a, err := h.CreateAvatar(id)
	if err != nil {
		return nil, err
	}
	h.loop.Post(func() { a.Attached(mind) })
	return a.Handlers(), nil
}

// Logout detaches and removes the avatar for id.
func (h *Heaven[A]) Logout(id string, mind ipc.Mind) {
	a, ok := h.avatars[id]
	if !ok {
		h.logger.Debug("logout for unknown avatar", logging.String(logging.FieldAvatarID, id))
		return
	}
	if err := a.Detached(mind); err != nil {
		logging.ErrorWithContext(h.logger, "avatar detach failed", "avatar_detach_failed",
			logging.String(logging.FieldAvatarID, id),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "a stale session was closed after its avatar logged in again"),
		)
		return
	}
	if err := h.RemoveAvatar(id); err != nil {
		h.logger.Debug("avatar already removed", logging.Error(err))
	}
}
