package dag

import (
	"fmt"
	"slices"
)

type node[T comparable] struct {
	value    T
	typ      string
	parents  []T
	children []T
}

// Graph is a directed graph of unique values. It is not safe for concurrent
// use; callers serialize access, normally by owning the graph from one loop.
type Graph[T comparable] struct {
	nodes map[T]*node[T]
	order []T

	// Stamps from the most recent traversal.
	begin map[T]int
	end   map[T]int
}

// New returns an empty graph.
func New[T comparable]() *Graph[T] {
	return &Graph[T]{nodes: make(map[T]*node[T])}
}

// AddNode adds value with the given type tag.
func (g *Graph[T]) AddNode(value T, typ string) error {
	if _, ok := g.nodes[value]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicateNode, value)
	}
	g.nodes[value] = &node[T]{value: value, typ: typ}
	g.order = append(g.order, value)
	return nil
}

// HasNode reports whether value is in the graph.
func (g *Graph[T]) HasNode(value T) bool {
	_, ok := g.nodes[value]
	return ok
}

// Type returns the type tag of value.
func (g *Graph[T]) Type(value T) (string, error) {
	n, err := g.lookup(value)
	if err != nil {
		return "", err
	}
	return n.typ, nil
}

// RemoveNode removes value together with every edge that touches it.
func (g *Graph[T]) RemoveNode(value T) error {
	n, err := g.lookup(value)
	if err != nil {
		return err
	}
	for _, parent := range n.parents {
		p := g.nodes[parent]
		p.children = slices.DeleteFunc(p.children, func(v T) bool { return v == value })
	}
	for _, child := range n.children {
		c := g.nodes[child]
		c.parents = slices.DeleteFunc(c.parents, func(v T) bool { return v == value })
	}
	delete(g.nodes, value)
	g.order = slices.DeleteFunc(g.order, func(v T) bool { return v == value })
	return nil
}

// AddEdge adds a parent -> child edge. Acyclicity is not checked here.
func (g *Graph[T]) AddEdge(parent, child T) error {
	p, err := g.lookup(parent)
	if err != nil {
		return err
	}
	c, err := g.lookup(child)
	if err != nil {
		return err
	}
	if parent == child {
		return fmt.Errorf("%w: %v", ErrSelfEdge, parent)
	}
	if slices.Contains(p.children, child) {
		return fmt.Errorf("%w: %v -> %v", ErrDuplicateEdge, parent, child)
	}
	p.children = append(p.children, child)
	c.parents = append(c.parents, parent)
	return nil
}

// HasEdge reports whether the parent -> child edge exists.
func (g *Graph[T]) HasEdge(parent, child T) bool {
	p, ok := g.nodes[parent]
	return ok && slices.Contains(p.children, child)
}

// RemoveEdge removes the parent -> child edge.
func (g *Graph[T]) RemoveEdge(parent, child T) error {
	p, err := g.lookup(parent)
	if err != nil {
		return err
	}
	c, err := g.lookup(child)
	if err != nil {
		return err
	}
	if !slices.Contains(p.children, child) {
		return fmt.Errorf("%w: edge %v -> %v", ErrNotFound, parent, child)
	}
	p.children = slices.DeleteFunc(p.children, func(v T) bool { return v == child })
	c.parents = slices.DeleteFunc(c.parents, func(v T) bool { return v == parent })
	return nil
}

// IsFloating reports whether value has neither parents nor children.
func (g *Graph[T]) IsFloating(value T) (bool, error) {
	n, err := g.lookup(value)
	if err != nil {
		return false, err
	}
	return len(n.parents) == 0 && len(n.children) == 0, nil
}

// Children returns the direct children of value.
func (g *Graph[T]) Children(value T) ([]T, error) {
	n, err := g.lookup(value)
	if err != nil {
		return nil, err
	}
	return slices.Clone(n.children), nil
}

// Parents returns the direct parents of value.
func (g *Graph[T]) Parents(value T) ([]T, error) {
	n, err := g.lookup(value)
	if err != nil {
		return nil, err
	}
	return slices.Clone(n.parents), nil
}

// Offspring returns every transitive descendant of value. When typ is not
// empty only descendants with that type tag are returned. Shared descendants
// are reported once.
func (g *Graph[T]) Offspring(value T, typ string) ([]T, error) {
	n, err := g.lookup(value)
	if err != nil {
		return nil, err
	}
	visited := make(map[T]struct{})
	var out []T
	var walk func(*node[T])
	walk = func(current *node[T]) {
		for _, child := range current.children {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			c := g.nodes[child]
			if typ == "" || c.typ == typ {
				out = append(out, child)
			}
			walk(c)
		}
	}
	walk(n)
	return out, nil
}

// Nodes returns every value in insertion order.
func (g *Graph[T]) Nodes() []T {
	return slices.Clone(g.order)
}

// Len returns the number of nodes.
func (g *Graph[T]) Len() int {
	return len(g.nodes)
}

func (g *Graph[T]) lookup(value T) (*node[T], error) {
	n, ok := g.nodes[value]
	if !ok {
		return nil, fmt.Errorf("%w: node %v", ErrNotFound, value)
	}
	return n, nil
}
