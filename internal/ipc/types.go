package ipc

import (
	"encoding/json"

	"conduit/internal/bouncer"
)

// Login interfaces.
const (
	InterfaceWorker    = "worker"
	InterfaceComponent = "component"
	InterfaceAdmin     = "admin"
	InterfaceJob       = "job"
)

// LoginRequest is sent by a peer to Portal.Login.
type LoginRequest struct {
	Interface       string           `json:"interface"`
	AvatarID        string           `json:"avatar_id"`
	Keycard         *bouncer.Keycard `json:"keycard"`
	CallbackNetwork string           `json:"callback_network"`
	CallbackAddr    string           `json:"callback_addr"`
}

// LoginResponse answers Portal.Login. A keycard still in the requesting
// state carries a challenge the peer must answer before logging in again.
type LoginResponse struct {
	Keycard   *bouncer.Keycard `json:"keycard"`
	SessionID string           `json:"session_id,omitempty"`
	AvatarID  string           `json:"avatar_id,omitempty"`
	PeerHost  string           `json:"peer_host,omitempty"`
	KeepAlive float64          `json:"keep_alive,omitempty"`
}

// CallRequest names a handler and its JSON encoded parameters.
type CallRequest struct {
	Method        string          `json:"method"`
	Params        json.RawMessage `json:"params,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// CallResponse carries a handler result.
type CallResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
}
