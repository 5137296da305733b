// Package mood defines component moods and the machine that derives a
// component's mood from the state of its eater and feeder elements.
package mood

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Mood is the coarse health of a component. The ordinal order is used when
// sorting components by health.
type Mood int

const (
	Happy Mood = iota
	Hungry
	Waking
	Sleeping
	Lost
	Sad
)

var names = [...]string{
	Happy:    "happy",
	Hungry:   "hungry",
	Waking:   "waking",
	Sleeping: "sleeping",
	Lost:     "lost",
	Sad:      "sad",
}

// All lists every mood in ordinal order.
var All = []Mood{Happy, Hungry, Waking, Sleeping, Lost, Sad}

func (m Mood) String() string {
	if m < 0 || int(m) >= len(names) {
		return fmt.Sprintf("mood(%d)", int(m))
	}
	return names[m]
}

// Label returns the mood name for display.
func (m Mood) Label() string {
	return cases.Title(language.Und).String(m.String())
}

// Valid reports whether m is a known mood.
func (m Mood) Valid() bool {
	return m >= Happy && m <= Sad
}

// CanStart reports whether an operator may start a component in this mood.
func (m Mood) CanStart() bool {
	return m == Sleeping
}

// CanStop reports whether an operator may stop a component in this mood.
func (m Mood) CanStop() bool {
	return m != Sleeping && m != Lost
}

// Parse converts a mood name.
func Parse(s string) (Mood, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range names {
		if name == s {
			return Mood(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mood %q", s)
}

func (m Mood) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid mood %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mood) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
