package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"strings"
	"sync"

	"conduit/internal/bouncer"
	"conduit/internal/services"
)

var (
	// ErrConnectionLost means the peer went away before or during a call.
	ErrConnectionLost = errors.New("ipc: connection lost")
	// ErrUnknownMethod matches every UnknownMethodError.
	ErrUnknownMethod = errors.New("ipc: unknown method")
	// ErrUnauthorized is returned when the realm refuses a keycard.
	ErrUnauthorized = errors.New("ipc: unauthorized")
	// ErrNotLoggedIn is returned for calls on a session without a login.
	ErrNotLoggedIn = errors.New("ipc: not logged in")
	// ErrAlreadyLoggedIn is returned for a second login on one session.
	ErrAlreadyLoggedIn = errors.New("ipc: already logged in")
	// ErrInvalidParams is returned when call parameters do not decode.
	ErrInvalidParams = errors.New("ipc: invalid parameters")
)

// UnknownMethodError reports a call to a method with no handler.
type UnknownMethodError struct {
	Method string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("ipc: unknown method %q", e.Method)
}

func (e *UnknownMethodError) Unwrap() error {
	return ErrUnknownMethod
}

// RemoteError is an error returned by the far side of a call.
type RemoteError struct {
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return e.Message
	}
	return fmt.Sprintf("remote %s: %s", e.Kind, e.Message)
}

// Is matches the sentinel registered for the error kind.
func (e *RemoteError) Is(target error) bool {
	if e.Kind == "" {
		return false
	}
	kinds.RLock()
	sentinel, ok := kinds.byKind[e.Kind]
	kinds.RUnlock()
	return ok && sentinel == target
}

var kinds = struct {
	sync.RWMutex
	byKind map[string]error
	order  []string
}{byKind: make(map[string]error)}

// RegisterErrorKind makes sentinel survive a trip over the wire under kind.
// It returns sentinel so it can be used in a var declaration.
func RegisterErrorKind(kind string, sentinel error) error {
	kinds.Lock()
	defer kinds.Unlock()
	if _, exists := kinds.byKind[kind]; !exists {
		kinds.order = append(kinds.order, kind)
	}
	kinds.byKind[kind] = sentinel
	return sentinel
}

func init() {
	RegisterErrorKind("unknown_method", ErrUnknownMethod)
	RegisterErrorKind("unauthorized", ErrUnauthorized)
	RegisterErrorKind("not_logged_in", ErrNotLoggedIn)
	RegisterErrorKind("already_logged_in", ErrAlreadyLoggedIn)
	RegisterErrorKind("invalid_params", ErrInvalidParams)
	RegisterErrorKind("connection_lost", ErrConnectionLost)
	RegisterErrorKind("configuration", services.ErrConfiguration)
	RegisterErrorKind("validation", services.ErrValidation)
	RegisterErrorKind("not_found", services.ErrNotFound)
	RegisterErrorKind("timeout", services.ErrTimeout)
	RegisterErrorKind("transient", services.ErrTransient)
	RegisterErrorKind("not_authenticated", bouncer.ErrNotAuthenticated)
	RegisterErrorKind("unknown_keycard", bouncer.ErrUnknownKeycard)
}

func kindOf(err error) string {
	var remote *RemoteError
	if errors.As(err, &remote) && remote.Kind != "" {
		return remote.Kind
	}
	kinds.RLock()
	defer kinds.RUnlock()
	for _, kind := range kinds.order {
		if errors.Is(err, kinds.byKind[kind]) {
			return kind
		}
	}
	return ""
}

// encodeError prepares a handler error for net/rpc.
func encodeError(err error) error {
	if err == nil {
		return nil
	}
	kind := kindOf(err)
	if kind == "" {
		return err
	}
	return fmt.Errorf("[%s] %s", kind, err.Error())
}

// decodeError turns an error from net/rpc into a RemoteError or
// ErrConnectionLost.
func decodeError(err error) error {
	if err == nil {
		return nil
	}
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) {
		msg := string(serverErr)
		if strings.HasPrefix(msg, "[") {
			if end := strings.Index(msg, "] "); end > 0 {
				return &RemoteError{Kind: msg[1:end], Message: msg[end+2:]}
			}
		}
		return &RemoteError{Message: msg}
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %v", ErrConnectionLost, err)
	}
	return err
}

func isConnectionError(err error) bool {
	if errors.Is(err, rpc.ErrShutdown) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
