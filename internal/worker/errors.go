package worker

import (
	"errors"

	"conduit/internal/ipc"
)

var (
	// ErrComponentStart is returned when a component could not be started,
	// including a second start for an avatar already starting or running.
	ErrComponentStart = ipc.RegisterErrorKind("component_start", errors.New("worker: component start failed"))
	// ErrJobExited is reported for a start whose job went away first.
	ErrJobExited = errors.New("worker: job exited")
)
