package protocol

import (
	"encoding/json"
	"time"

	"conduit/internal/mood"
)

// Served by a worker medium, called by the manager.
const (
	WorkerStart         = "start"
	WorkerStop          = "stop"
	WorkerGetComponents = "getComponents"
)

// Served by a component medium, called by the manager.
const (
	ComponentRegister     = "register"
	ComponentGetFreePorts = "getFreePorts"
	ComponentLink         = "link"
	ComponentStop         = "stop"
	ComponentPlay         = "play"
	ComponentPause        = "pause"
	ComponentGetState     = "getState"
	ComponentCallMethod   = "callMethod"
	ComponentSetMood      = "setMood"
)

// Served by the manager to components.
const (
	ManagerHeartbeat        = "heartbeat"
	ManagerFeedStateChanged = "feedStateChanged"
	ManagerError            = "error"
	ManagerUIStateChanged   = "uiStateChanged"
)

// Served by the manager to admins.
const (
	AdminGetComponents  = "getComponents"
	AdminGetComponent   = "getComponent"
	AdminStartComponent = "startComponent"
	AdminStopComponent  = "stopComponent"
	AdminSetMood        = "setMood"
	AdminCallComponent  = "callComponent"
	AdminGetGraph       = "getGraph"
	AdminGetStartOrder  = "getStartOrder"
	AdminGetKeycards    = "getKeycards"
	AdminRemoveKeycard  = "removeKeycard"
	AdminExpireKeycard  = "expireKeycard"
	AdminGetHistory     = "getHistory"
	AdminGetAudit       = "getKeycardAudit"
	AdminGetFeeds       = "getFeeds"
)

// Served by an admin medium, pushed by the manager.
const (
	AdminComponentAdded   = "componentAdded"
	AdminComponentRemoved = "componentRemoved"
	AdminStateChanged     = "stateChanged"
)

// Served by a job medium, called by its worker.
const (
	JobBootstrap = "bootstrap"
	JobStart     = "start"
)

// ComponentConfig is everything a job needs to run one component.
type ComponentConfig struct {
	Name              string            `json:"name"`
	Type              string            `json:"type"`
	Worker            string            `json:"worker,omitempty"`
	Eaters            []string          `json:"eaters,omitempty"`
	Feeders           []string          `json:"feeders,omitempty"`
	Properties        map[string]string `json:"properties,omitempty"`
	HeartbeatInterval float64           `json:"heartbeat_interval"`
	ReconnectInterval float64           `json:"reconnect_interval"`
}

// StartParams asks a worker to start a component.
type StartParams struct {
	AvatarID string          `json:"avatar_id"`
	Type     string          `json:"type"`
	Config   ComponentConfig `json:"config"`
}

// StartResult reports the started job.
type StartResult struct {
	PID int `json:"pid"`
}

// StopParams names the component a worker should stop.
type StopParams struct {
	AvatarID string `json:"avatar_id"`
}

// Kid describes a job process a worker runs.
type Kid struct {
	AvatarID string    `json:"avatar_id"`
	Type     string    `json:"type"`
	PID      int       `json:"pid"`
	Started  time.Time `json:"started"`
}

// RegisterResult is a component's answer to register.
type RegisterResult struct {
	Eaters  []string `json:"eaters"`
	Feeders []string `json:"feeders"`
	// Host is where the component's feeders listen. Empty means the address
	// the manager sees the component connect from.
	Host string `json:"host,omitempty"`
	PID  int    `json:"pid"`
}

// FeedTuple locates one feed. For eaters Feed is qualified
// (component:feed), for feeders it is the bare feed name.
type FeedTuple struct {
	Feed string `json:"feed"`
	Host string `json:"host,omitempty"`
	Port int    `json:"port"`
}

// LinkParams wires a component's eaters and feeders.
type LinkParams struct {
	Eaters  []FeedTuple `json:"eaters"`
	Feeders []FeedTuple `json:"feeders"`
}

// CallMethodParams invokes a component specific method.
type CallMethodParams struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// MoodParams carries a mood.
type MoodParams struct {
	Mood    mood.Mood `json:"mood"`
	Message string    `json:"message,omitempty"`
}

// FeedStateParams reports a feeder or eater pipeline state change.
type FeedStateParams struct {
	Feed string             `json:"feed"`
	Kind string             `json:"kind"`
	Old  mood.PipelineState `json:"old"`
	New  mood.PipelineState `json:"new"`
}

// ErrorParams reports an element error.
type ErrorParams struct {
	Element string `json:"element"`
	Message string `json:"message"`
}

// UIStateParams reports a component specific value for admin views.
type UIStateParams struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// ComponentState is a component's own view of itself.
type ComponentState struct {
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	Mood           mood.Mood         `json:"mood"`
	EatersWaiting  int               `json:"eaters_waiting"`
	FeedersWaiting int               `json:"feeders_waiting"`
	Ports          map[string]int    `json:"ports,omitempty"`
	Eaters         map[string]string `json:"eaters,omitempty"`
	PID            int               `json:"pid"`
}

// ComponentInfo is the manager's view of a component.
type ComponentInfo struct {
	Name          string         `json:"name"`
	Worker        string         `json:"worker,omitempty"`
	Type          string         `json:"type"`
	Mood          mood.Mood      `json:"mood"`
	Message       string         `json:"message,omitempty"`
	Eaters        []string       `json:"eaters,omitempty"`
	Feeders       []string       `json:"feeders,omitempty"`
	ListenPorts   map[string]int `json:"listen_ports,omitempty"`
	PID           int            `json:"pid,omitempty"`
	Started       bool           `json:"started"`
	Connected     bool           `json:"connected"`
	LastHeartbeat time.Time      `json:"last_heartbeat,omitzero"`
}

// NameParams names a component.
type NameParams struct {
	Name string `json:"name"`
}

// SetMoodParams is an explicit corrective mood change.
type SetMoodParams struct {
	Name string    `json:"name"`
	Mood mood.Mood `json:"mood"`
}

// CallComponentParams relays callMethod to a component.
type CallComponentParams struct {
	Name   string          `json:"name"`
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// KeycardParams names a keycard.
type KeycardParams struct {
	ID string `json:"id"`
}

// HistoryParams filters mood history.
type HistoryParams struct {
	Component string `json:"component,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	// Latest asks for the last recorded mood of every component instead.
	Latest bool `json:"latest,omitempty"`
}

// StateEvent is a component state change pushed to admins.
type StateEvent struct {
	Component string    `json:"component"`
	Key       string    `json:"key"`
	Kind      string    `json:"kind"`
	Value     any       `json:"value,omitempty"`
	Time      time.Time `json:"time"`
}

// FeedInfo is the manager's view of one feed.
type FeedInfo struct {
	Name      string `json:"name"`
	Ready     bool   `json:"ready"`
	Pending   int    `json:"pending"`
	Component string `json:"component,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
}

// BootstrapParams tells a job how to reach the manager.
type BootstrapParams struct {
	Manager  string `json:"manager"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Worker   string `json:"worker"`
}

// JobStartParams starts the component in a job.
type JobStartParams struct {
	AvatarID  string          `json:"avatar_id"`
	Config    ComponentConfig `json:"config"`
	FeedPorts map[string]int  `json:"feed_ports,omitempty"`
}
