// Package feed tracks the readiness of named feeds and the callbacks waiting
// on them.
//
// A feed is named "component:feed"; a bare component name refers to its
// "default" feed. Feeds are created on first reference and become ready at
// most once. Callbacks registered before that run in registration order when
// the feed turns ready; callbacks registered afterwards run immediately.
package feed

import (
	"slices"
	"strings"
)

// DefaultFeed is the feed name used when a reference omits one.
const DefaultFeed = "default"

// Qualify returns name in "component:feed" form.
func Qualify(name string) string {
	if name == "" || strings.Contains(name, ":") {
		return name
	}
	return name + ":" + DefaultFeed
}

// Component returns the component part of a feed name.
func Component(name string) string {
	component, _, _ := strings.Cut(Qualify(name), ":")
	return component
}

// Name returns the feed part of a feed name.
func Name(name string) string {
	_, feedName, _ := strings.Cut(Qualify(name), ":")
	return feedName
}

// Join builds a qualified feed name.
func Join(component, feedName string) string {
	if feedName == "" {
		feedName = DefaultFeed
	}
	return component + ":" + feedName
}

// Owner describes where the component that produces a feed listens.
type Owner struct {
	Component string
	Host      string
	Port      int
}

// Status is a snapshot of one feed.
type Status struct {
	Name    string
	Ready   bool
	Pending int
	Owner   Owner
	Owned   bool
}

type entry struct {
	name    string
	ready   bool
	pending []func()
	owner   Owner
	owned   bool
}

// Tracker holds feed readiness for one manager. It is not safe for concurrent
// use; the manager loop owns it.
type Tracker struct {
	feeds map[string]*entry
	order []string
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{feeds: make(map[string]*entry)}
}

func (t *Tracker) get(name string) *entry {
	name = Qualify(name)
	e, ok := t.feeds[name]
	if !ok {
		e = &entry{name: name}
		t.feeds[name] = e
		t.order = append(t.order, name)
	}
	return e
}

// HasFeed reports whether name has been referenced.
func (t *Tracker) HasFeed(name string) bool {
	_, ok := t.feeds[Qualify(name)]
	return ok
}

// AddFeeders records component as the owner of its feeds, listening on host.
// Ports are filled in later with SetPort.
func (t *Tracker) AddFeeders(component, host string, feeds []string) {
	for _, feedName := range feeds {
		e := t.get(Join(component, feedName))
		e.owner = Owner{Component: component, Host: host}
		e.owned = true
	}
}

// SetPort records the port a feed is served on.
func (t *Tracker) SetPort(name string, port int) {
	e := t.get(name)
	e.owner.Port = port
}

// Owner returns the owner of a feed, if one registered.
func (t *Tracker) Owner(name string) (Owner, bool) {
	e, ok := t.feeds[Qualify(name)]
	if !ok || !e.owned {
		return Owner{}, false
	}
	return e.owner, true
}

// DependOnFeed runs fn once name is ready: immediately if it already is,
// otherwise when FeedReady is called for it.
func (t *Tracker) DependOnFeed(name string, fn func()) {
	e := t.get(name)
	if e.ready {
		fn()
		return
	}
	e.pending = append(e.pending, fn)
}

// FeedReady marks name ready and runs its pending callbacks in registration
// order. It reports whether the feed changed state; repeated calls run
// nothing.
func (t *Tracker) FeedReady(name string) bool {
	e := t.get(name)
	if e.ready {
		return false
	}
	e.ready = true
	pending := e.pending
	e.pending = nil
	for _, fn := range pending {
		fn()
	}
	return true
}

// IsFeedReady reports whether name is ready. Unknown feeds are not ready.
func (t *Tracker) IsFeedReady(name string) bool {
	e, ok := t.feeds[Qualify(name)]
	return ok && e.ready
}

// AllReady reports whether every named feed is ready.
func (t *Tracker) AllReady(names []string) bool {
	for _, name := range names {
		if !t.IsFeedReady(name) {
			return false
		}
	}
	return true
}

// ReadyCount returns the number of ready feeds.
func (t *Tracker) ReadyCount() int {
	n := 0
	for _, e := range t.feeds {
		if e.ready {
			n++
		}
	}
	return n
}

// Feeds returns a snapshot of every feed in first-reference order.
func (t *Tracker) Feeds() []Status {
	out := make([]Status, 0, len(t.order))
	for _, name := range t.order {
		e := t.feeds[name]
		out = append(out, Status{
			Name:    e.name,
			Ready:   e.ready,
			Pending: len(e.pending),
			Owner:   e.owner,
			Owned:   e.owned,
		})
	}
	return slices.Clip(out)
}
