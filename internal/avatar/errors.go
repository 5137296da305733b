package avatar

import (
	"errors"

	"conduit/internal/ipc"
)

var (
	// ErrAlreadyConnected is returned when an avatar id is already logged in.
	ErrAlreadyConnected = ipc.RegisterErrorKind("already_connected", errors.New("avatar already connected"))
	// ErrNotFound is returned for an avatar id the heaven does not hold.
	ErrNotFound = ipc.RegisterErrorKind("avatar_not_found", errors.New("avatar not found"))
	// ErrNoMind is returned for a remote call on an avatar without a mind.
	ErrNoMind = ipc.RegisterErrorKind("no_mind", errors.New("avatar has no mind"))
	// ErrDeadReference is returned when the peer went away during a call.
	ErrDeadReference = ipc.RegisterErrorKind("dead_reference", errors.New("dead reference"))
	// ErrMindMismatch is returned when a detach names a mind other than the
	// attached one.
	ErrMindMismatch = errors.New("detaching mind is not the attached mind")
	// ErrUnknownInterface is returned for a login on an interface without a
	// heaven.
	ErrUnknownInterface = ipc.RegisterErrorKind("unknown_interface", errors.New("unknown interface"))
)
