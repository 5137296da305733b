package avatar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/reactor"
)

// Avatar is one logged-in peer as seen by its heaven.
type Avatar interface {
	ID() string
	// Handlers returns the methods the peer may call on this avatar.
	Handlers() ipc.Handlers
	// Attached runs on the loop on the turn after login.
	Attached(mind ipc.Mind)
	// Detached runs on the loop once the peer connection is gone.
	Detached(mind ipc.Mind) error
}

// Base implements mind bookkeeping for avatars. Concrete avatars embed it and
// call Base.Attached and Base.Detached from their own hooks.
type Base struct {
	id     string
	heaven string
	loop   *reactor.Loop
	logger *slog.Logger
	mind   ipc.Mind
	onLost func(err error)
}

// NewBase returns a base avatar owned by loop.
func NewBase(loop *reactor.Loop, heaven, id string, logger *slog.Logger) *Base {
	return &Base{
		id:     id,
		heaven: heaven,
		loop:   loop,
		logger: logging.NewComponentLogger(logger, heaven).With(logging.String(logging.FieldAvatarID, id)),
	}
}

func (b *Base) ID() string { return b.id }

// Heaven returns the name of the heaven the avatar belongs to.
func (b *Base) Heaven() string { return b.heaven }

// Loop returns the loop owning the avatar.
func (b *Base) Loop() *reactor.Loop { return b.loop }

func (b *Base) Logger() *slog.Logger { return b.logger }

// Mind returns the attached mind, or nil.
func (b *Base) Mind() ipc.Mind { return b.mind }

// HasMind reports whether a mind is attached.
func (b *Base) HasMind() bool { return b.mind != nil }

// OnMindLost sets the hook run when a call finds the peer gone.
func (b *Base) OnMindLost(fn func(err error)) {
	b.onLost = fn
}

// Attached records mind.
func (b *Base) Attached(mind ipc.Mind) {
	b.mind = mind
	b.logger.Debug("mind attached", logging.String("peer", mind.Addr()))
}

// Detached clears mind. A mind other than the attached one is left alone and
// reported with ErrMindMismatch.
func (b *Base) Detached(mind ipc.Mind) error {
	if b.mind != nil && b.mind != mind {
		return ErrMindMismatch
	}
	b.mind = nil
	b.logger.Debug("mind detached")
	return nil
}

// MindCallRemote calls method on the peer without blocking the loop. then,
// when not nil, runs on the loop with the outcome. A lost connection clears
// the mind, runs the mind-lost hook, and reaches then as ErrDeadReference.
func (b *Base) MindCallRemote(ctx context.Context, method string, params, reply any, then func(error)) {
	mind := b.mind
	if mind == nil {
		logging.WarnWithContext(b.logger, "remote call without a mind", "avatar_no_mind",
			logging.String(logging.FieldMethod, method),
			logging.String(logging.FieldImpact, "call was not delivered"),
			logging.String(logging.FieldErrorHint, "the peer is not connected; wait for it to log in again"),
		)
		if then != nil {
			b.loop.Post(func() { then(fmt.Errorf("%w: %s", ErrNoMind, method)) })
		}
		return
	}
	go func() {
		err := mind.Call(ctx, method, params, reply)
		b.loop.Post(func() {
			if errors.Is(err, ipc.ErrConnectionLost) {
				err = fmt.Errorf("%w: %s: %w", ErrDeadReference, method, err)
				if b.mind == mind {
					b.mind = nil
					logging.WarnWithContext(b.logger, "peer went away during remote call", "avatar_dead_reference",
						logging.String(logging.FieldMethod, method),
						logging.Error(err),
						logging.String(logging.FieldImpact, "avatar marked unreachable"),
						logging.String(logging.FieldErrorHint, "check that the peer process is still running"),
					)
					if b.onLost != nil {
						b.onLost(err)
					}
				}
			}
			if then != nil {
				then(err)
			}
		})
	}()
}

// CallRemote is MindCallRemote for code running off the loop. It blocks until
// the call completes.
func (b *Base) CallRemote(ctx context.Context, method string, params, reply any) error {
	done := make(chan error, 1)
	err := b.loop.Call(ctx, func() {
		b.MindCallRemote(ctx, method, params, reply, func(err error) { done <- err })
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.loop.Done():
		return reactor.ErrStopped
	}
}
