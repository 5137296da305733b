package component

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/ports"
	"conduit/internal/protocol"
	"conduit/internal/reactor"
)

// stopGrace lets the stop reply and the last heartbeat reach the manager
// before the medium closes.
const stopGrace = 100 * time.Millisecond

// RunOptions configures Run.
type RunOptions struct {
	Config protocol.ComponentConfig
	// Manager is the manager's host:port.
	Manager   string
	Username  string
	Password  string
	FeedPorts map[string]int
	Logger    *slog.Logger
	PortProbe ports.Probe
	// Started is called once the component logged in to the manager.
	Started func()
}

// Run logs a component in to the manager and serves it until ctx ends, the
// manager stops it, or the manager connection drops. A manager-requested stop
// returns nil; a dropped connection returns ErrManagerLost.
func Run(ctx context.Context, opts RunOptions) error {
	logger := logging.NewComponentLogger(opts.Logger, "job").With(logging.String(logging.FieldAvatarID, opts.Config.Name))

	loop := reactor.New()
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer func() {
		stopLoop()
		<-loop.Done()
	}()
	go func() {
		_ = loop.Run(loopCtx)
	}()

	c, err := New(loop, Options{
		Config:    opts.Config,
		FeedPorts: opts.FeedPorts,
		Logger:    opts.Logger,
		PortProbe: opts.PortProbe,
	})
	if err != nil {
		return err
	}

	medium, err := ipc.NewMedium(ipc.MediumOptions{
		Network:   "tcp",
		Address:   opts.Manager,
		Interface: ipc.InterfaceComponent,
		AvatarID:  opts.Config.Name,
		Username:  opts.Username,
		Password:  opts.Password,
		Handlers:  c.Handlers(),
		Logger:    opts.Logger,
	})
	if err != nil {
		return err
	}
	defer medium.Close()

	if err := medium.Login(ctx); err != nil {
		return fmt.Errorf("component %s: %w", opts.Config.Name, err)
	}
	if err := loop.Call(ctx, func() { c.Attach(medium) }); err != nil {
		return err
	}
	logger.Info("component logged in",
		logging.String("manager", opts.Manager),
		logging.String("session_id", medium.SessionID()),
	)
	if opts.Started != nil {
		opts.Started()
	}

	shutdown := func() {
		callCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = loop.Call(callCtx, c.Stop)
		c.Flush(callCtx)
	}

	select {
	case <-ctx.Done():
		logger.Info("component shutting down", logging.String("reason", context.Cause(ctx).Error()))
		shutdown()
		return nil
	case <-c.Done():
		c.Flush(ctx)
		select {
		case <-time.After(stopGrace):
		case <-ctx.Done():
		}
		logger.Info("component stopped by manager")
		return nil
	case <-medium.Done():
		logging.WarnWithContext(logger, "manager connection lost", "component_manager_lost",
			logging.String("manager", opts.Manager),
			logging.String(logging.FieldImpact, "component stops and its job exits"),
			logging.String(logging.FieldErrorHint, "the manager restarts the component through its worker once it is back"),
		)
		shutdown()
		return ErrManagerLost
	}
}
