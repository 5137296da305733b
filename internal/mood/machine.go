package mood

// ElementKind distinguishes eater and feeder elements.
type ElementKind int

const (
	Eater ElementKind = iota
	Feeder
)

func (k ElementKind) String() string {
	if k == Feeder {
		return "feeder"
	}
	return "eater"
}

// PipelineState is the state of a pipeline element.
type PipelineState string

const (
	StateNull    PipelineState = "NULL"
	StateReady   PipelineState = "READY"
	StatePaused  PipelineState = "PAUSED"
	StatePlaying PipelineState = "PLAYING"
)

// Transition is the effect of an element state change on the counters.
type Transition int

const (
	NoChange Transition = iota
	Activated
	Deactivated
)

// Listener observes mood changes. It runs synchronously inside the call that
// changed the mood.
type Listener func(old, current Mood)

// Machine derives a component's mood from how many of its eaters and feeders
// are still waiting to become active. A sad machine only leaves sad through
// SetMood. Machine is not safe for concurrent use.
type Machine struct {
	mood           Mood
	eaters         int
	feeders        int
	eatersWaiting  int
	feedersWaiting int
	listeners      []Listener
}

// NewMachine returns a sleeping machine with every element waiting.
func NewMachine(eaters, feeders int) *Machine {
	return &Machine{
		mood:           Sleeping,
		eaters:         eaters,
		feeders:        feeders,
		eatersWaiting:  eaters,
		feedersWaiting: feeders,
	}
}

// Mood returns the current mood.
func (m *Machine) Mood() Mood {
	return m.mood
}

// Waiting returns the number of eaters and feeders not yet active.
func (m *Machine) Waiting() (eaters, feeders int) {
	return m.eatersWaiting, m.feedersWaiting
}

// OnChange registers a listener for mood changes.
func (m *Machine) OnChange(fn Listener) {
	m.listeners = append(m.listeners, fn)
}

// SetMood sets the mood explicitly. It is always accepted, including out of
// sad, and reports whether the mood changed.
func (m *Machine) SetMood(next Mood) bool {
	if next == m.mood {
		return false
	}
	old := m.mood
	m.mood = next
	for _, fn := range m.listeners {
		fn(old, next)
	}
	return true
}

// UpdateMood recomputes the mood from the waiting counters. It does nothing
// while the machine is sad.
func (m *Machine) UpdateMood() {
	if m.mood == Sad {
		return
	}
	switch {
	case m.eatersWaiting == 0 && m.feedersWaiting == 0:
		m.SetMood(Happy)
	case m.eatersWaiting == 0:
		m.SetMood(Waking)
	default:
		m.SetMood(Hungry)
	}
}

// Link moves a freshly linked component to hungry when eaters are still
// waiting and to waking otherwise.
func (m *Machine) Link() {
	if m.eatersWaiting > 0 {
		m.SetMood(Hungry)
		return
	}
	m.SetMood(Waking)
}

// ElementStateChanged applies an element state change. PAUSED to PLAYING
// activates the element, PLAYING to PAUSED deactivates it; other changes are
// ignored. A counter never leaves the range between zero and the number of
// elements of its kind.
func (m *Machine) ElementStateChanged(kind ElementKind, old, current PipelineState) Transition {
	var delta int
	var tr Transition
	switch {
	case old == StatePaused && current == StatePlaying:
		delta, tr = -1, Activated
	case old == StatePlaying && current == StatePaused:
		delta, tr = 1, Deactivated
	default:
		return NoChange
	}
	if kind == Eater {
		m.eatersWaiting = min(max(0, m.eatersWaiting+delta), m.eaters)
	} else {
		m.feedersWaiting = min(max(0, m.feedersWaiting+delta), m.feeders)
	}
	m.UpdateMood()
	return tr
}
