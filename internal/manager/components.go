package manager

import (
	"maps"
	"slices"
	"time"

	"conduit/internal/config"
	"conduit/internal/mood"
	"conduit/internal/protocol"
	"conduit/internal/state"
)

// Component state keys.
const (
	KeyName          = "name"
	KeyWorker        = "worker"
	KeyType          = "type"
	KeyMood          = "mood"
	KeyMessage       = "message"
	KeyEaters        = "eaters"
	KeyFeeders       = "feeders"
	KeyPID           = "pid"
	KeyStarted       = "started"
	KeyLastHeartbeat = "lastHeartbeat"
	KeyListenPorts   = "listenPorts"
)

// componentEntry is the manager's record of one component. It outlives the
// component's connection so a vanished component can still report lost.
type componentEntry struct {
	name       string
	cfg        config.Component
	configured bool
	state      *state.Store

	avatar     *ComponentAvatar
	generation int
	requested  bool
	starting   bool
	started    bool
	stopping   bool

	eaters        []string
	feeders       []string
	peerHost      string
	listenPorts   map[string]int
	lastHeartbeat time.Time
	ui            map[string]any
}

func newComponentEntry(cfg config.Component, configured bool) *componentEntry {
	e := &componentEntry{
		name:        cfg.Name,
		cfg:         cfg,
		configured:  configured,
		state:       state.New(cfg.Name),
		listenPorts: make(map[string]int),
		ui:          make(map[string]any),
		eaters:      slices.Clone(cfg.Eaters),
		feeders:     slices.Clone(cfg.Feeders),
	}
	e.state.Set(KeyName, cfg.Name)
	e.state.Set(KeyType, cfg.Type)
	e.state.Set(KeyWorker, cfg.Worker)
	e.state.Set(KeyMood, mood.Sleeping)
	e.state.Set(KeyStarted, false)
	return e
}

func (e *componentEntry) mood() mood.Mood {
	v, _ := e.state.Get(KeyMood)
	m, ok := v.(mood.Mood)
	if !ok {
		return mood.Sleeping
	}
	return m
}

func (e *componentEntry) message() string {
	return e.state.String(KeyMessage)
}

func (e *componentEntry) worker() string {
	return e.state.String(KeyWorker)
}

// setMood records next with message. The message is cleared when a mood
// without one replaces sad.
func (e *componentEntry) setMood(next mood.Mood, message string) {
	if message != "" || next != mood.Sad {
		e.state.Set(KeyMessage, message)
	}
	e.state.Set(KeyMood, next)
}

func (e *componentEntry) setStarted(started bool) {
	e.started = started
	e.state.Set(KeyStarted, started)
}

func (e *componentEntry) info() protocol.ComponentInfo {
	pid, _ := e.state.Get(KeyPID)
	pidValue, _ := pid.(int)
	return protocol.ComponentInfo{
		Name:          e.name,
		Worker:        e.worker(),
		Type:          e.state.String(KeyType),
		Mood:          e.mood(),
		Message:       e.message(),
		Eaters:        slices.Clone(e.eaters),
		Feeders:       slices.Clone(e.feeders),
		ListenPorts:   maps.Clone(e.listenPorts),
		PID:           pidValue,
		Started:       e.started,
		Connected:     e.avatar != nil,
		LastHeartbeat: e.lastHeartbeat,
	}
}
