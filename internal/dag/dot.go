package dag

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteDOT writes the graph in Graphviz DOT syntax. label renders node values;
// nil uses fmt.Sprint.
func (g *Graph[T]) WriteDOT(w io.Writer, name string, label func(T) string) error {
	if label == nil {
		label = func(v T) string { return fmt.Sprint(v) }
	}
	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", strconv.Quote(name))
	for _, value := range g.order {
		n := g.nodes[value]
		if n.typ != "" {
			fmt.Fprintf(&b, "  %s [type=%s];\n", strconv.Quote(label(value)), strconv.Quote(n.typ))
		} else {
			fmt.Fprintf(&b, "  %s;\n", strconv.Quote(label(value)))
		}
	}
	for _, value := range g.order {
		for _, child := range g.nodes[value].children {
			fmt.Fprintf(&b, "  %s -> %s;\n", strconv.Quote(label(value)), strconv.Quote(label(child)))
		}
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}
