package dag

import (
	"cmp"
	"slices"
)

type color int

const (
	white color = iota
	gray
	black
)

// Sort returns every node with parents before children, visiting nodes in
// insertion order.
func (g *Graph[T]) Sort() ([]T, error) {
	return g.SortPreferred(nil)
}

// SortPreferred returns every node with parents before children. Roots and
// siblings are visited in the order given by preferred; nodes missing from
// preferred follow in insertion order. The same graph and preference always
// produce the same result.
func (g *Graph[T]) SortPreferred(preferred []T) ([]T, error) {
	rank := g.rank(preferred)
	byRank := func(values []T) []T {
		out := slices.Clone(values)
		slices.SortStableFunc(out, func(a, b T) int { return cmp.Compare(rank[a], rank[b]) })
		return out
	}

	colors := make(map[T]color, len(g.nodes))
	begin := make(map[T]int, len(g.nodes))
	end := make(map[T]int, len(g.nodes))
	count := 0

	var visit func(T) error
	visit = func(value T) error {
		colors[value] = gray
		count++
		begin[value] = count
		for _, child := range byRank(g.nodes[value].children) {
			switch colors[child] {
			case gray:
				return &CycleError{Node: child}
			case white:
				if err := visit(child); err != nil {
					return err
				}
			}
		}
		colors[value] = black
		count++
		end[value] = count
		return nil
	}

	for _, value := range byRank(g.order) {
		if colors[value] != white {
			continue
		}
		if err := visit(value); err != nil {
			return nil, err
		}
	}

	g.begin, g.end = begin, end
	out := slices.Clone(g.order)
	slices.SortFunc(out, func(a, b T) int { return cmp.Compare(end[b], end[a]) })
	return out, nil
}

// IsAncestor reports whether ancestor reaches node through one or more edges.
// It relies on the begin/end stamps of a fresh traversal: ancestor encloses
// node iff begin[ancestor] < begin[node] < end[node] < end[ancestor].
func (g *Graph[T]) IsAncestor(ancestor, node T) (bool, error) {
	if _, err := g.lookup(ancestor); err != nil {
		return false, err
	}
	if _, err := g.lookup(node); err != nil {
		return false, err
	}
	if _, err := g.SortPreferred(nil); err != nil {
		return false, err
	}
	// A node visited from an earlier root can sit outside the interval of a
	// later root that also reaches it, so fall back to a walk in that case.
	if g.begin[ancestor] < g.begin[node] && g.end[node] < g.end[ancestor] {
		return true, nil
	}
	offspring, err := g.Offspring(ancestor, "")
	if err != nil {
		return false, err
	}
	return slices.Contains(offspring, node), nil
}

func (g *Graph[T]) rank(preferred []T) map[T]int {
	rank := make(map[T]int, len(g.nodes))
	for i, value := range preferred {
		if _, ok := g.nodes[value]; !ok {
			continue
		}
		if _, dup := rank[value]; !dup {
			rank[value] = i
		}
	}
	next := len(preferred)
	for _, value := range g.order {
		if _, ok := rank[value]; !ok {
			rank[value] = next
			next++
		}
	}
	return rank
}
