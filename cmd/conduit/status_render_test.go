package main

import (
	"strings"
	"testing"

	"conduit/internal/mood"
	"conduit/internal/protocol"
)

func TestRenderMood(t *testing.T) {
	if got := renderMood(mood.Hungry, false); got != "Hungry" {
		t.Fatalf("renderMood plain = %q", got)
	}
	got := renderMood(mood.Sad, true)
	if !strings.HasPrefix(got, ansiRed) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("renderMood colored = %q", got)
	}
}

func TestMoodSummaryFollowsMoodOrder(t *testing.T) {
	infos := []protocol.ComponentInfo{
		{Name: "a", Mood: mood.Sad},
		{Name: "b", Mood: mood.Happy},
		{Name: "c", Mood: mood.Happy},
	}
	if got := strings.Join(moodSummary(infos), ", "); got != "2 happy, 1 sad" {
		t.Fatalf("summary = %q", got)
	}
}

func TestComponentRowsFillBlanks(t *testing.T) {
	rows := componentRows([]protocol.ComponentInfo{{Name: "src", Type: "producer", Mood: mood.Sleeping}}, false)
	want := []string{"src", "-", "producer", "Sleeping", "no", "-", "-", ""}
	if strings.Join(rows[0], "|") != strings.Join(want, "|") {
		t.Fatalf("row = %q, want %q", rows[0], want)
	}
}

func TestMoodValue(t *testing.T) {
	tests := []struct {
		in   any
		want mood.Mood
		ok   bool
	}{
		{"happy", mood.Happy, true},
		{float64(mood.Lost), mood.Lost, true},
		{float64(99), 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, err := moodValue(tt.in)
		if (err == nil) != tt.ok || (tt.ok && got != tt.want) {
			t.Errorf("moodValue(%v) = %v, %v", tt.in, got, err)
		}
	}
}

func TestRenderStatusLine(t *testing.T) {
	got := renderStatusLine("Manager", statusWarn, "refused", false)
	want := statusIndent + "Manager:         [WARN] refused"
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
	colored := renderStatusLine("Manager", statusOK, "", true)
	if !strings.HasPrefix(colored, ansiGreen) || !strings.HasSuffix(colored, ansiReset) {
		t.Fatalf("colored = %q", colored)
	}
}
