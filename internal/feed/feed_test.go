package feed_test

import (
	"slices"
	"testing"

	"conduit/internal/feed"
)

func TestQualify(t *testing.T) {
	tests := map[string]string{
		"producer":       "producer:default",
		"producer:audio": "producer:audio",
		"":               "",
	}
	for in, want := range tests {
		if got := feed.Qualify(in); got != want {
			t.Fatalf("Qualify(%q) = %q, want %q", in, got, want)
		}
	}
	if feed.Component("producer:audio") != "producer" || feed.Name("producer") != "default" {
		t.Fatal("unexpected split of feed names")
	}
}

func TestDependOnFeedBeforeReadyRunsOnce(t *testing.T) {
	tr := feed.NewTracker()
	calls := 0
	tr.DependOnFeed("P", func() { calls++ })

	if calls != 0 {
		t.Fatal("callback ran before feed was ready")
	}
	if !tr.HasFeed("P:default") {
		t.Fatal("expected feed to be created lazily")
	}
	if tr.IsFeedReady("P") {
		t.Fatal("feed should not be ready yet")
	}

	if !tr.FeedReady("P:default") {
		t.Fatal("first FeedReady should report a transition")
	}
	if tr.FeedReady("P") {
		t.Fatal("second FeedReady should be a no-op")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one call, got %d", calls)
	}
}

func TestDependOnFeedAfterReadyRunsImmediately(t *testing.T) {
	tr := feed.NewTracker()
	tr.FeedReady("P")

	calls := 0
	tr.DependOnFeed("P:default", func() { calls++ })
	if calls != 1 {
		t.Fatalf("expected immediate call, got %d", calls)
	}
	tr.FeedReady("P")
	if calls != 1 {
		t.Fatalf("repeat FeedReady re-ran callback: %d", calls)
	}
}

func TestFeedReadyRunsCallbacksInOrder(t *testing.T) {
	tr := feed.NewTracker()
	var got []int
	for i := range 4 {
		tr.DependOnFeed("P:video", func() { got = append(got, i) })
	}
	tr.FeedReady("P:video")
	if !slices.Equal(got, []int{0, 1, 2, 3}) {
		t.Fatalf("callbacks ran out of order: %v", got)
	}
	if st := tr.Feeds(); len(st) != 1 || st[0].Pending != 0 {
		t.Fatalf("pending callbacks not cleared: %+v", st)
	}
}

func TestUnknownFeedIsNotReady(t *testing.T) {
	tr := feed.NewTracker()
	if tr.IsFeedReady("ghost") {
		t.Fatal("unknown feed reported ready")
	}
	if tr.HasFeed("ghost") {
		t.Fatal("IsFeedReady should not create feeds")
	}
}

func TestOwnerTracksFeederHostAndPort(t *testing.T) {
	tr := feed.NewTracker()
	tr.AddFeeders("P", "10.0.0.5", []string{"default", "audio"})
	tr.SetPort("P:audio", 5501)

	owner, ok := tr.Owner("P:audio")
	if !ok {
		t.Fatal("expected owner for P:audio")
	}
	if owner.Component != "P" || owner.Host != "10.0.0.5" || owner.Port != 5501 {
		t.Fatalf("unexpected owner: %+v", owner)
	}
	if _, ok := tr.Owner("Q"); ok {
		t.Fatal("unexpected owner for Q")
	}
	tr.FeedReady("P")
	if tr.ReadyCount() != 1 || !tr.AllReady([]string{"P"}) || tr.AllReady([]string{"P", "P:audio"}) {
		t.Fatal("unexpected readiness accounting")
	}
}
