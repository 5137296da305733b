// Package state holds observable key/value state.
//
// Each mutation is delivered to registered listeners as an Event before the
// mutating call returns, in registration order.
package state

import (
	"maps"
	"slices"
)

// Kind identifies the mutation that produced an Event.
type Kind string

const (
	KindSet    Kind = "set"
	KindAppend Kind = "append"
	KindRemove Kind = "remove"
)

// Event describes one mutation of a Store.
type Event struct {
	Kind  Kind   `json:"kind"`
	Store string `json:"store"`
	Key   string `json:"key"`
	Old   any    `json:"old,omitempty"`
	New   any    `json:"new,omitempty"`
}

// Listener observes a Store.
type Listener interface {
	StateChanged(Event)
}

type funcListener struct {
	fn func(Event)
}

func (f *funcListener) StateChanged(ev Event) { f.fn(ev) }

// ListenerFunc adapts fn to a Listener. Keep the returned value to
// unregister it later.
func ListenerFunc(fn func(Event)) Listener {
	return &funcListener{fn: fn}
}

// Store is a named set of values. It is not safe for concurrent use; the
// owning loop serializes access.
type Store struct {
	name      string
	values    map[string]any
	listeners []Listener
}

// New returns an empty store.
func New(name string) *Store {
	return &Store{name: name, values: make(map[string]any)}
}

// Name returns the store name.
func (s *Store) Name() string {
	return s.name
}

// Register adds l. Registering the same listener twice has no effect.
func (s *Store) Register(l Listener) {
	if slices.Contains(s.listeners, l) {
		return
	}
	s.listeners = append(s.listeners, l)
}

// Unregister removes l.
func (s *Store) Unregister(l Listener) {
	s.listeners = slices.DeleteFunc(s.listeners, func(existing Listener) bool { return existing == l })
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// String returns the value under key if it is a string.
func (s *Store) String(key string) string {
	v, _ := s.values[key].(string)
	return v
}

// Set stores value under key and notifies listeners when the value changed.
func (s *Store) Set(key string, value any) {
	old, existed := s.values[key]
	if existed && comparableEqual(old, value) {
		return
	}
	s.values[key] = value
	s.emit(Event{Kind: KindSet, Store: s.name, Key: key, Old: old, New: value})
}

// Append adds value to the list stored under key.
func (s *Store) Append(key string, value any) {
	list, _ := s.values[key].([]any)
	s.values[key] = append(slices.Clone(list), value)
	s.emit(Event{Kind: KindAppend, Store: s.name, Key: key, New: value})
}

// Remove deletes the first occurrence of value from the list under key.
func (s *Store) Remove(key string, value any) bool {
	list, _ := s.values[key].([]any)
	idx := slices.IndexFunc(list, func(v any) bool { return comparableEqual(v, value) })
	if idx < 0 {
		return false
	}
	s.values[key] = slices.Delete(slices.Clone(list), idx, idx+1)
	s.emit(Event{Kind: KindRemove, Store: s.name, Key: key, Old: value})
	return true
}

// Snapshot returns a copy of every value.
func (s *Store) Snapshot() map[string]any {
	return maps.Clone(s.values)
}

func (s *Store) emit(ev Event) {
	for _, l := range slices.Clone(s.listeners) {
		l.StateChanged(ev)
	}
}

func comparableEqual(a, b any) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return a == b
}
