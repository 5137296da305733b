package dag

import (
	"errors"
	"slices"
	"testing"
)

// Graph from the Cornell CS312 lecture 15 topological sort example.
func lectureGraph(t *testing.T) *Graph[int] {
	t.Helper()
	g := New[int]()
	for i := 1; i <= 9; i++ {
		if err := g.AddNode(i, ""); err != nil {
			t.Fatalf("AddNode(%d): %v", i, err)
		}
	}
	edges := [][2]int{{1, 2}, {1, 4}, {2, 3}, {4, 3}, {4, 6}, {5, 8}, {6, 5}, {6, 8}, {9, 8}}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatalf("AddEdge(%d, %d): %v", e[0], e[1], err)
		}
	}
	return g
}

func TestSortPreferredStamps(t *testing.T) {
	g := lectureGraph(t)

	got, err := g.SortPreferred([]int{1, 2, 3, 4, 5, 6, 9, 8, 7})
	if err != nil {
		t.Fatalf("SortPreferred: %v", err)
	}
	want := []int{7, 9, 1, 4, 6, 5, 8, 2, 3}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected order: got %v want %v", got, want)
	}

	stamps := [][2]int{{1, 14}, {2, 5}, {3, 4}, {6, 13}, {8, 11}, {7, 12}, {17, 18}, {9, 10}, {15, 16}}
	for i, s := range stamps {
		n := i + 1
		if g.begin[n] != s[0] || g.end[n] != s[1] {
			t.Fatalf("node %d: got (%d, %d) want (%d, %d)", n, g.begin[n], g.end[n], s[0], s[1])
		}
	}

	again, err := g.SortPreferred([]int{1, 2, 3, 4, 5, 6, 9, 8, 7})
	if err != nil {
		t.Fatalf("second SortPreferred: %v", err)
	}
	if !slices.Equal(again, want) {
		t.Fatalf("sort is not deterministic: %v", again)
	}

	if err := g.AddEdge(5, 4); err != nil {
		t.Fatalf("AddEdge(5, 4) should defer cycle detection: %v", err)
	}
	_, err = g.Sort()
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle match, got %v", err)
	}
}
