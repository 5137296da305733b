package bouncer

import "fmt"

// State is the authentication state of a keycard.
type State string

const (
	Requesting    State = "REQUESTING"
	Authenticated State = "AUTHENTICATED"
	Refused       State = "REFUSED"
)

// Type names the credentials a keycard carries.
type Type string

const (
	// TypeGeneric carries no credentials.
	TypeGeneric Type = "generic"
	// TypeUACPP carries a username and a plaintext password.
	TypeUACPP Type = "uacpp"
	// TypeUACPCC carries a username and answers a challenge.
	TypeUACPCC Type = "uacpcc"
)

// Keycard is a credential passed through a bouncer.
type Keycard struct {
	ID          string   `json:"id,omitempty"`
	Type        Type     `json:"type"`
	State       State    `json:"state"`
	Username    string   `json:"username,omitempty"`
	Password    string   `json:"password,omitempty"`
	Challenge   string   `json:"challenge,omitempty"`
	Response    string   `json:"response,omitempty"`
	Salt        string   `json:"salt,omitempty"`
	TTL         *float64 `json:"ttl,omitempty"`
	IssuerName  string   `json:"issuer_name,omitempty"`
	RequesterID string   `json:"requester_id,omitempty"`
	AvatarID    string   `json:"avatar_id,omitempty"`
	Address     string   `json:"address,omitempty"`
}

// NewKeycard returns a requesting keycard of the given type.
func NewKeycard(typ Type) *Keycard {
	return &Keycard{Type: typ, State: Requesting}
}

// WithTTL sets the keycard ttl in seconds.
func (k *Keycard) WithTTL(seconds float64) *Keycard {
	k.TTL = &seconds
	return k
}

// Redacted returns a copy safe to log or hand to other clients.
func (k Keycard) Redacted() Keycard {
	k.Password = ""
	k.Response = ""
	if k.TTL != nil {
		ttl := *k.TTL
		k.TTL = &ttl
	}
	return k
}

func (k *Keycard) String() string {
	return fmt.Sprintf("keycard %s type=%s state=%s user=%q", k.ID, k.Type, k.State, k.Username)
}

func (k *Keycard) refuse() *Keycard {
	k.State = Refused
	return k
}
