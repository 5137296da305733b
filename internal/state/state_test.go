package state_test

import (
	"testing"

	"conduit/internal/state"
)

type recorder struct {
	events []state.Event
}

func (r *recorder) StateChanged(ev state.Event) {
	r.events = append(r.events, ev)
}

func TestSetNotifiesOnlyOnChange(t *testing.T) {
	s := state.New("producer")
	rec := &recorder{}
	s.Register(rec)
	s.Register(rec)

	s.Set("mood", "sleeping")
	s.Set("mood", "sleeping")
	s.Set("mood", "waking")

	if len(rec.events) != 2 {
		t.Fatalf("expected 2 events, got %+v", rec.events)
	}
	last := rec.events[1]
	if last.Kind != state.KindSet || last.Store != "producer" || last.Key != "mood" || last.Old != "sleeping" || last.New != "waking" {
		t.Fatalf("unexpected event: %+v", last)
	}
	if s.String("mood") != "waking" {
		t.Fatalf("unexpected value %q", s.String("mood"))
	}
}

func TestUnregisterStopsDelivery(t *testing.T) {
	s := state.New("c")
	var count int
	l := state.ListenerFunc(func(state.Event) { count++ })
	s.Register(l)
	s.Set("a", 1)
	s.Unregister(l)
	s.Set("a", 2)
	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}

func TestAppendAndRemove(t *testing.T) {
	s := state.New("c")
	rec := &recorder{}
	s.Register(rec)

	s.Append("feeds", "c:default")
	s.Append("feeds", "c:audio")
	if !s.Remove("feeds", "c:default") {
		t.Fatal("expected remove to succeed")
	}
	if s.Remove("feeds", "c:missing") {
		t.Fatal("removing an absent value should fail")
	}
	v, _ := s.Get("feeds")
	list := v.([]any)
	if len(list) != 1 || list[0] != "c:audio" {
		t.Fatalf("unexpected list %v", list)
	}
	if len(rec.events) != 3 || rec.events[2].Kind != state.KindRemove {
		t.Fatalf("unexpected events %+v", rec.events)
	}
}

func TestSetWithUncomparableValues(t *testing.T) {
	s := state.New("c")
	s.Set("eaters", []string{"a"})
	s.Set("eaters", []string{"a"})
	v, _ := s.Get("eaters")
	if len(v.([]string)) != 1 {
		t.Fatalf("unexpected value %v", v)
	}
}
