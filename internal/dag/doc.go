// Package dag implements the typed directed acyclic graph used to order
// component starts and answer dependency questions.
//
// Nodes wrap a comparable value plus a free-form type tag. Edges point from a
// parent to a child. Cycles are allowed to exist transiently; they are only
// reported when a sort is requested. Sorting is a depth-first traversal that
// stamps every node with begin/end counters; nodes are returned by decreasing
// end stamp, so parents always precede their children. A preferred order makes
// the traversal, and therefore the result, deterministic among siblings.
package dag
