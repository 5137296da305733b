package worker

import (
	"fmt"
	"maps"
	"slices"

	"conduit/internal/protocol"
)

// StartOutcome is how a pending start ended.
type StartOutcome struct {
	PID int
	Err error
}

// PendingStart is one start the manager is waiting on.
type PendingStart struct {
	Params protocol.StartParams
	done   chan StartOutcome
}

// Done delivers the outcome once.
func (p *PendingStart) Done() <-chan StartOutcome { return p.done }

// StartRegistry tracks starts between the manager's request and the job's
// report. It is not safe for concurrent use; the brain uses it on its loop.
type StartRegistry struct {
	pending map[string]*PendingStart
}

// NewStartRegistry returns an empty registry.
func NewStartRegistry() *StartRegistry {
	return &StartRegistry{pending: make(map[string]*PendingStart)}
}

// Create records a start for params.AvatarID. A start already pending for
// the same avatar fails with ErrComponentStart.
func (r *StartRegistry) Create(params protocol.StartParams) (*PendingStart, error) {
	if _, exists := r.pending[params.AvatarID]; exists {
		return nil, fmt.Errorf("%w: %s is already starting", ErrComponentStart, params.AvatarID)
	}
	p := &PendingStart{Params: params, done: make(chan StartOutcome, 1)}
	r.pending[params.AvatarID] = p
	return p, nil
}

// Get returns the pending start for id.
func (r *StartRegistry) Get(id string) (*PendingStart, bool) {
	p, ok := r.pending[id]
	return p, ok
}

// Trigger completes the start for id with the job's pid.
func (r *StartRegistry) Trigger(id string, pid int) bool {
	return r.finish(id, StartOutcome{PID: pid})
}

// Failed completes the start for id with err, wrapped in ErrComponentStart.
func (r *StartRegistry) Failed(id string, err error) bool {
	return r.finish(id, StartOutcome{Err: fmt.Errorf("%w: %s: %w", ErrComponentStart, id, err)})
}

func (r *StartRegistry) finish(id string, outcome StartOutcome) bool {
	p, ok := r.pending[id]
	if !ok {
		return false
	}
	delete(r.pending, id)
	p.done <- outcome
	return true
}

// IDs returns the sorted ids of pending starts.
func (r *StartRegistry) IDs() []string {
	return slices.Sorted(maps.Keys(r.pending))
}
