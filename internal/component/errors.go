package component

import (
	"errors"

	"conduit/internal/ipc"
)

var (
	// ErrNotLinked is returned for pipeline operations before link.
	ErrNotLinked = ipc.RegisterErrorKind("not_linked", errors.New("component: not linked"))
	// ErrManagerLost is returned by Run when the manager connection drops.
	ErrManagerLost = errors.New("component: manager connection lost")
)
