package bouncer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"conduit/internal/logging"
	"conduit/internal/reactor"
)

// DefaultExpireInterval is the keycard sweep interval.
const DefaultExpireInterval = 2 * time.Minute

// Audit actions reported to Options.Audit.
const (
	ActionAdded         = "added"
	ActionAuthenticated = "authenticated"
	ActionChallenged    = "challenged"
	ActionRefused       = "refused"
	ActionRemoved       = "removed"
	ActionExpired       = "expired"
)

// Expirer is told when a keycard is revoked by the bouncer.
type Expirer interface {
	ExpireKeycard(requesterID, keycardID string)
}

// Bouncer is the contract the login layer depends on.
type Bouncer interface {
	Authenticate(ctx context.Context, kc *Keycard) *Keycard
	KeepAlive(issuerName string, ttl float64)
	RemoveKeycardID(id string) error
	ExpireKeycardID(id string) error
	SetEnabled(enabled bool)
	Enabled() bool
	Keycards() []Keycard
}

// Options configures a bouncer.
type Options struct {
	Loop           *reactor.Loop
	Logger         *slog.Logger
	ExpireInterval time.Duration
	Expirer        Expirer
	Audit          func(action string, kc Keycard)
	Now            func() time.Time
}

type decider func(ctx context.Context, kc *Keycard) *Keycard

// Base holds the keycard table, id generation and ttl sweep shared by every
// bouncer.
type Base struct {
	logger   *slog.Logger
	allowed  []Type
	decide   decider
	expirer  Expirer
	audit    func(string, Keycard)
	enabled  bool
	idPrefix string
	counter  int
	keycards map[string]*Keycard
	expiry   *reactor.Poller
}

func newBase(opts Options, name string, allowed []Type, decide decider) *Base {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	interval := opts.ExpireInterval
	if interval <= 0 {
		interval = DefaultExpireInterval
	}
	b := &Base{
		logger:   logging.NewComponentLogger(opts.Logger, "bouncer").With(logging.String("bouncer", name)),
		allowed:  allowed,
		decide:   decide,
		expirer:  opts.Expirer,
		audit:    opts.Audit,
		enabled:  true,
		idPrefix: now().Format("20060102150405"),
		keycards: make(map[string]*Keycard),
	}
	b.expiry = reactor.NewPoller(opts.Loop, interval, b.Sweep)
	return b
}

// SetExpirer replaces the expiry receiver.
func (b *Base) SetExpirer(e Expirer) {
	b.expirer = e
}

// TypeAllowed reports whether the bouncer accepts keycards of typ.
func (b *Base) TypeAllowed(typ Type) bool {
	return slices.Contains(b.allowed, typ)
}

// Authenticate runs the common checks and then the bouncer decision. The
// returned keycard is authenticated, refused, or still requesting when the
// client has to answer a challenge.
func (b *Base) Authenticate(ctx context.Context, kc *Keycard) *Keycard {
	if kc == nil {
		return NewKeycard(TypeGeneric).refuse()
	}
	if !b.TypeAllowed(kc.Type) {
		logging.WarnWithContext(b.logger, "keycard type not allowed", "keycard_type_refused",
			logging.String("keycard_type", string(kc.Type)),
			logging.String(logging.FieldErrorHint, "log in with a keycard type this bouncer accepts"),
			logging.String(logging.FieldImpact, "login refused"),
		)
		b.record(ActionRefused, kc)
		return kc.refuse()
	}
	if !b.enabled {
		b.logger.Debug("bouncer disabled, refusing authentication")
		b.record(ActionRefused, kc)
		return kc.refuse()
	}
	if kc.TTL != nil && !b.expiry.Running() {
		b.logger.Debug("starting keycard expiry poller", logging.Duration("interval", b.expiry.Interval()))
		b.expiry.Start()
	}
	result := b.decide(ctx, kc)
	switch result.State {
	case Authenticated:
		b.record(ActionAuthenticated, result)
	case Refused:
		b.record(ActionRefused, result)
	}
	return result
}

// AddKeycard stores kc and assigns its id. Adding a keycard whose id is
// already tracked succeeds without storing anything and returns the tracked
// keycard. A keycard whose ttl has already run out is refused.
func (b *Base) AddKeycard(kc *Keycard) (*Keycard, bool) {
	if kc.ID != "" {
		if existing, ok := b.keycards[kc.ID]; ok {
			return existing, true
		}
	}
	kc.ID = b.nextID()
	if kc.TTL != nil && *kc.TTL <= 0 {
		b.logger.Debug("keycard ttl already expired", logging.String(logging.FieldKeycardID, kc.ID))
		return kc, false
	}
	b.keycards[kc.ID] = kc
	b.logger.Debug("added keycard", logging.String(logging.FieldKeycardID, kc.ID))
	b.record(ActionAdded, kc)
	return kc, true
}

func (b *Base) nextID() string {
	id := fmt.Sprintf("%s-%d", b.idPrefix, b.counter)
	b.counter++
	return id
}

// HasKeycard reports whether id is tracked.
func (b *Base) HasKeycard(id string) bool {
	_, ok := b.keycards[id]
	return ok
}

// Keycard returns a redacted copy of the tracked keycard.
func (b *Base) Keycard(id string) (Keycard, bool) {
	kc, ok := b.keycards[id]
	if !ok {
		return Keycard{}, false
	}
	return kc.Redacted(), true
}

func (b *Base) removeKeycard(kc *Keycard) {
	delete(b.keycards, kc.ID)
}

// RemoveKeycardID drops a keycard its requester no longer needs.
func (b *Base) RemoveKeycardID(id string) error {
	kc, ok := b.keycards[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKeycard, id)
	}
	b.removeKeycard(kc)
	b.logger.Debug("removed keycard", logging.String(logging.FieldKeycardID, id))
	b.record(ActionRemoved, kc)
	return nil
}

// ExpireKeycardID drops a keycard and notifies the Expirer.
func (b *Base) ExpireKeycardID(id string) error {
	kc, ok := b.keycards[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKeycard, id)
	}
	b.removeKeycard(kc)
	b.logger.Info("expired keycard",
		logging.String(logging.FieldKeycardID, id),
		logging.String("requester_id", kc.RequesterID),
	)
	b.record(ActionExpired, kc)
	if b.expirer != nil {
		b.expirer.ExpireKeycard(kc.RequesterID, kc.ID)
	}
	return nil
}

// ExpireAll expires every tracked keycard.
func (b *Base) ExpireAll() {
	for _, id := range slices.Sorted(maps.Keys(b.keycards)) {
		_ = b.ExpireKeycardID(id)
	}
}

// KeepAlive resets the ttl of every keycard issued by issuerName.
func (b *Base) KeepAlive(issuerName string, ttl float64) {
	for _, kc := range b.keycards {
		if kc.IssuerName == issuerName {
			value := ttl
			kc.TTL = &value
		}
	}
}

// Sweep decrements every keycard ttl by the expiry interval and expires the
// keycards that ran out. The expiry poller calls it.
func (b *Base) Sweep() {
	step := b.expiry.Interval().Seconds()
	for _, id := range slices.Sorted(maps.Keys(b.keycards)) {
		kc, ok := b.keycards[id]
		if !ok || kc.TTL == nil {
			continue
		}
		*kc.TTL -= step
		if *kc.TTL <= 0 {
			_ = b.ExpireKeycardID(id)
		}
	}
}

// SetEnabled turns the bouncer on or off. Disabling expires every keycard.
func (b *Base) SetEnabled(enabled bool) {
	if !enabled && b.enabled {
		b.ExpireAll()
		b.expiry.Stop()
	}
	b.enabled = enabled
}

// Enabled reports whether the bouncer accepts keycards.
func (b *Base) Enabled() bool {
	return b.enabled
}

// Stop disables the bouncer.
func (b *Base) Stop() {
	b.SetEnabled(false)
}

// Keycards returns redacted copies of every tracked keycard ordered by id.
func (b *Base) Keycards() []Keycard {
	out := make([]Keycard, 0, len(b.keycards))
	for _, id := range slices.Sorted(maps.Keys(b.keycards)) {
		out = append(out, b.keycards[id].Redacted())
	}
	return out
}

func (b *Base) record(action string, kc *Keycard) {
	if b.audit != nil {
		b.audit(action, kc.Redacted())
	}
}
