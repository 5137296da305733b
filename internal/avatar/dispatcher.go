package avatar

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"conduit/internal/bouncer"
	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/reactor"
)

// Registry is the part of a heaven the dispatcher needs. *Heaven satisfies it.
type Registry interface {
	RequestAvatar(id string, mind ipc.Mind) (ipc.Handlers, error)
	Logout(id string, mind ipc.Mind)
}

// KeepAliveParams renews the ttl of every keycard of an issuer. Empty fields
// fall back to the caller's avatar id and the configured keycard ttl.
type KeepAliveParams struct {
	Issuer string  `json:"issuer,omitempty"`
	TTL    float64 `json:"ttl,omitempty"`
}

// Dispatcher routes logins to the heaven registered for their interface. It
// implements ipc.Realm; every registry access is marshalled onto the loop.
type Dispatcher struct {
	loop       *reactor.Loop
	logger     *slog.Logger
	bouncer    bouncer.Bouncer
	keycardTTL float64
	heavens    map[string]Registry
	sessions   map[string]*ipc.Session
}

// NewDispatcher returns a dispatcher that authenticates with b. A positive
// keycardTTL is stamped on keycards that arrive without one.
func NewDispatcher(loop *reactor.Loop, b bouncer.Bouncer, keycardTTL float64, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		loop:       loop,
		logger:     logging.NewComponentLogger(logger, "dispatcher"),
		bouncer:    b,
		keycardTTL: keycardTTL,
		heavens:    make(map[string]Registry),
		sessions:   make(map[string]*ipc.Session),
	}
}

// Register serves logins on iface from r. Call it before the portal serves.
func (d *Dispatcher) Register(iface string, r Registry) {
	d.heavens[iface] = r
}

// Interfaces returns the registered interfaces.
func (d *Dispatcher) Interfaces() []string {
	return slices.Sorted(maps.Keys(d.heavens))
}

// Authenticate runs kc through the bouncer on the loop.
func (d *Dispatcher) Authenticate(ctx context.Context, kc *bouncer.Keycard) *bouncer.Keycard {
	if d.keycardTTL > 0 && kc.TTL == nil {
		kc.WithTTL(d.keycardTTL)
	}
	var result *bouncer.Keycard
	if err := d.loop.Call(ctx, func() { result = d.bouncer.Authenticate(ctx, kc) }); err != nil || result == nil {
		refused := *kc
		refused.State = bouncer.Refused
		return &refused
	}
	return result
}

// Login asks the interface's heaven for an avatar.
func (d *Dispatcher) Login(ctx context.Context, sess *ipc.Session, mind ipc.Mind) (ipc.Handlers, error) {
	var (
		handlers ipc.Handlers
		loginErr error
	)
	err := d.loop.Call(ctx, func() {
		if heaven, ok := d.heavens[sess.Interface()]; ok {
			handlers, loginErr = heaven.RequestAvatar(sess.AvatarID(), mind)
		} else {
			loginErr = fmt.Errorf("%w: %q", ErrUnknownInterface, sess.Interface())
		}
		if loginErr != nil {
			if id := sess.KeycardID(); id != "" {
				_ = d.bouncer.RemoveKeycardID(id)
			}
			return
		}
		d.sessions[sess.ID] = sess
	})
	if err != nil {
		return nil, err
	}
	if loginErr != nil {
		d.logger.Info("login refused by heaven",
			logging.String("interface", sess.Interface()),
			logging.String(logging.FieldAvatarID, sess.AvatarID()),
			logging.Error(loginErr),
		)
		return nil, loginErr
	}
	return ipc.Handlers{"keepAlive": ipc.Bind(d.keepAlive)}.Merge(handlers), nil
}

// Logout detaches the session's avatar and forgets its keycard.
func (d *Dispatcher) Logout(sess *ipc.Session) {
	d.loop.Post(func() {
		delete(d.sessions, sess.ID)
		if heaven, ok := d.heavens[sess.Interface()]; ok {
			heaven.Logout(sess.AvatarID(), sess.Mind())
		}
		if id := sess.KeycardID(); id != "" {
			_ = d.bouncer.RemoveKeycardID(id)
		}
	})
}

// ExpireKeycard closes the session a keycard was issued to. The bouncer
// calls it on the loop.
func (d *Dispatcher) ExpireKeycard(requesterID, keycardID string) {
	sess, ok := d.sessions[requesterID]
	if !ok || sess.KeycardID() != keycardID {
		return
	}
	d.logger.Info("closing session of expired keycard",
		logging.String("session_id", requesterID),
		logging.String(logging.FieldKeycardID, keycardID),
		logging.String(logging.FieldAvatarID, sess.AvatarID()),
	)
	sess.Close()
}

// Sessions returns the number of logged in sessions. Loop only.
func (d *Dispatcher) Sessions() int {
	return len(d.sessions)
}

func (d *Dispatcher) keepAlive(ctx context.Context, params KeepAliveParams) (bool, error) {
	if params.Issuer == "" {
		if sess, ok := ipc.SessionFromContext(ctx); ok {
			params.Issuer = sess.AvatarID()
		}
	}
	if params.TTL <= 0 {
		params.TTL = d.keycardTTL
	}
	if params.Issuer == "" || params.TTL <= 0 {
		return false, nil
	}
	err := d.loop.Call(ctx, func() { d.bouncer.KeepAlive(params.Issuer, params.TTL) })
	return err == nil, err
}
