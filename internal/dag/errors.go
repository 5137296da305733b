package dag

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateNode is returned when a value is added twice.
	ErrDuplicateNode = errors.New("dag: duplicate node")
	// ErrNotFound is returned when a node or edge does not exist.
	ErrNotFound = errors.New("dag: not found")
	// ErrDuplicateEdge is returned when an edge is added twice.
	ErrDuplicateEdge = errors.New("dag: duplicate edge")
	// ErrSelfEdge is returned for an edge from a node to itself.
	ErrSelfEdge = errors.New("dag: self-referential edge")
	// ErrCycle matches any CycleError.
	ErrCycle = errors.New("dag: cycle")
)

// CycleError reports the node at which a back edge was found during a sort.
type CycleError struct {
	Node any
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dag: cycle detected at node %v", e.Node)
}

func (e *CycleError) Unwrap() error {
	return ErrCycle
}
