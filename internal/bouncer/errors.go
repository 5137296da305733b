package bouncer

import "errors"

var (
	// ErrNotAuthenticated is returned by a Checker that rejects credentials.
	ErrNotAuthenticated = errors.New("bouncer: not authenticated")
	// ErrUnknownKeycard is returned for an id the bouncer does not track.
	ErrUnknownKeycard = errors.New("bouncer: unknown keycard")
)
