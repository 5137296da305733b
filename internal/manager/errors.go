package manager

import (
	"errors"

	"conduit/internal/ipc"
)

var (
	// ErrInvalidState rejects an admin action the component's mood does not allow.
	ErrInvalidState = ipc.RegisterErrorKind("invalid_state", errors.New("manager: component is in the wrong mood"))
	// ErrNoWorker means no logged in worker can run the component.
	ErrNoWorker = ipc.RegisterErrorKind("no_worker", errors.New("manager: no worker available"))
	// ErrHistoryDisabled is returned by history queries on a manager without a store.
	ErrHistoryDisabled = ipc.RegisterErrorKind("history_disabled", errors.New("manager: history is disabled"))
)
