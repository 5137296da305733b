// Package ipc carries remote calls between conduit processes over JSON-RPC.
//
// A daemon exposes a portal (Server) on a TCP or Unix socket. A peer creates a
// Medium, which serves its own handler map on a callback listener, and logs in
// to the portal with a keycard. Once the realm accepts the login the portal
// dials the callback to obtain a Mind for the peer, so both sides can call each
// other by method name. Every callable method is an entry in an explicit
// Handlers map; unknown names fail with UnknownMethodError.
//
// Errors cross the wire as "[kind] message" strings. Packages register their
// sentinel errors with RegisterErrorKind so errors.Is keeps working on the
// calling side.
package ipc
