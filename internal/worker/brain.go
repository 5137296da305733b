package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"conduit/internal/avatar"
	"conduit/internal/bouncer"
	"conduit/internal/config"
	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/ports"
	"conduit/internal/protocol"
	"conduit/internal/reactor"
)

// startTimeout bounds a start from spawn to the job's report.
const startTimeout = 30 * time.Second

// Options configures a brain beyond its config file.
type Options struct {
	Logger *slog.Logger
	// Command builds job processes. Nil runs the configured job binary, or
	// this executable, with the job subcommand.
	Command CommandFunc
	// ConfigPath is passed on to jobs.
	ConfigPath string
}

// Brain is the worker: it serves the manager's start and stop requests and
// owns the job processes. Registries are touched only on its loop.
type Brain struct {
	cfg    *config.Config
	logger *slog.Logger
	loop   *reactor.Loop

	kindergarten *Kindergarten
	starts       *StartRegistry
	pool         *ports.Pool
	jobs         *avatar.Heaven[*JobAvatar]
	bouncer      *bouncer.Trivial
	dispatcher   *avatar.Dispatcher

	socket   string
	portal   *ipc.Server
	medium   *ipc.Medium
	cancel   context.CancelFunc
	loopDone chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds a brain for cfg.Worker.
func New(cfg *config.Config, opts Options) (*Brain, error) {
	if cfg == nil {
		return nil, errors.New("worker requires config")
	}
	available, err := cfg.Worker.Ports()
	if err != nil {
		return nil, err
	}
	loop := reactor.New()
	b := &Brain{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(opts.Logger, "worker").With(logging.String("worker", cfg.Worker.Name)),
		loop:     loop,
		starts:   NewStartRegistry(),
		pool:     ports.NewPool(available),
		socket:   cfg.SocketPath(cfg.Worker.Name),
		loopDone: make(chan struct{}),
	}

	command := opts.Command
	if command == nil {
		binary := cfg.Worker.JobBinary
		if binary == "" {
			if binary, err = os.Executable(); err != nil {
				return nil, fmt.Errorf("resolve job binary: %w", err)
			}
		}
		command = JobCommand(binary, b.socket, opts.ConfigPath)
	}
	b.kindergarten = NewKindergarten(loop, command, opts.Logger)
	b.kindergarten.OnExit(b.kidExited)

	b.bouncer = bouncer.NewTrivial(bouncer.Options{Loop: loop, Logger: opts.Logger})
	b.dispatcher = avatar.NewDispatcher(loop, b.bouncer, 0, opts.Logger)
	b.bouncer.SetExpirer(b.dispatcher)
	b.jobs = avatar.NewHeaven(loop, ipc.InterfaceJob, opts.Logger, b.newJobAvatar)
	b.dispatcher.Register(ipc.InterfaceJob, b.jobs)
	return b, nil
}

// Start runs the loop, opens the job heaven and logs in to the manager.
func (b *Brain) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go func() {
		defer close(b.loopDone)
		if err := b.loop.Run(loopCtx); err != nil {
			b.logger.Error("worker loop failed", logging.Error(err))
		}
	}()
	stop := func() {
		cancel()
		<-b.loopDone
	}

	portal, err := ipc.NewServer(ctx, ipc.ServerOptions{
		Network: "unix",
		Address: b.socket,
		Realm:   b.dispatcher,
		Logger:  b.logger,
	})
	if err != nil {
		stop()
		return fmt.Errorf("job heaven: %w", err)
	}
	b.portal = portal
	portal.Serve()

	medium, err := ipc.NewMedium(ipc.MediumOptions{
		Network:   "tcp",
		Address:   b.cfg.Worker.Manager,
		Interface: ipc.InterfaceWorker,
		AvatarID:  b.cfg.Worker.Name,
		Username:  b.cfg.Worker.Username,
		Password:  b.cfg.Worker.Password,
		Handlers:  b.Handlers(),
		Logger:    b.logger,
	})
	if err != nil {
		portal.Close()
		stop()
		return err
	}
	if err := medium.Login(ctx); err != nil {
		_ = medium.Close()
		portal.Close()
		stop()
		return fmt.Errorf("worker %s: %w", b.cfg.Worker.Name, err)
	}
	b.medium = medium

	b.logger.Info("worker started",
		logging.String("manager", b.cfg.Worker.Manager),
		logging.String("socket", b.socket),
		logging.Int("feeder_ports", b.pool.Available()),
	)
	return nil
}

// Done is closed when the manager connection is gone.
func (b *Brain) Done() <-chan struct{} {
	if b.medium == nil {
		return nil
	}
	return b.medium.Done()
}

// Loop returns the brain's loop.
func (b *Brain) Loop() *reactor.Loop { return b.loop }

// SocketPath returns the job heaven socket.
func (b *Brain) SocketPath() string { return b.socket }

// Kids lists the running jobs.
func (b *Brain) Kids(ctx context.Context) ([]protocol.Kid, error) {
	var kids []protocol.Kid
	err := b.loop.Call(ctx, func() { kids = b.kindergarten.Kids() })
	return kids, err
}

// Shutdown logs out of the manager, stops every job and closes the job
// heaven.
func (b *Brain) Shutdown(ctx context.Context) error {
	b.shutdownOnce.Do(func() { b.shutdownErr = b.shutdown(ctx) })
	return b.shutdownErr
}

func (b *Brain) shutdown(ctx context.Context) error {
	if b.medium != nil {
		_ = b.medium.Close()
	}
	var errs []error
	if err := b.kindergarten.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if b.portal != nil {
		b.portal.Close()
	}
	b.loop.Post(b.bouncer.Stop)
	if b.cancel != nil {
		b.cancel()
		<-b.loopDone
	}
	b.logger.Info("worker stopped")
	return errors.Join(errs...)
}

// Handlers serves the manager's calls on the worker.
func (b *Brain) Handlers() ipc.Handlers {
	return ipc.Handlers{
		protocol.WorkerStart:         ipc.Bind(b.start),
		protocol.WorkerStop:          ipc.Bind(b.stop),
		protocol.WorkerGetComponents: ipc.Bind(b.getComponents),
	}
}

func (b *Brain) start(ctx context.Context, params protocol.StartParams) (protocol.StartResult, error) {
	if params.AvatarID == "" {
		params.AvatarID = params.Config.Name
	}
	if params.Type == "" {
		params.Type = params.Config.Type
	}
	var pending *PendingStart
	var createErr error
	err := b.loop.Call(ctx, func() {
		if kid, running := b.kindergarten.Get(params.AvatarID); running {
			createErr = fmt.Errorf("%w: %s already runs as pid %d", ErrComponentStart, params.AvatarID, kid.PID)
			return
		}
		pending, createErr = b.starts.Create(params)
		if createErr != nil {
			return
		}
		if _, err := b.kindergarten.Play(params.AvatarID, params.Type); err != nil {
			b.starts.Failed(params.AvatarID, err)
		}
	})
	if err != nil {
		return protocol.StartResult{}, err
	}
	if createErr != nil {
		return protocol.StartResult{}, createErr
	}

	timer := time.NewTimer(startTimeout)
	defer timer.Stop()
	select {
	case outcome := <-pending.Done():
		return protocol.StartResult{PID: outcome.PID}, outcome.Err
	case <-timer.C:
	case <-ctx.Done():
	}
	b.loop.Post(func() {
		if b.starts.Failed(params.AvatarID, errors.New("timed out waiting for the job")) {
			_ = b.kindergarten.Terminate(params.AvatarID)
		}
	})
	select {
	case outcome := <-pending.Done():
		return protocol.StartResult{PID: outcome.PID}, outcome.Err
	case <-b.loopDone:
		return protocol.StartResult{}, reactor.ErrStopped
	}
}

func (b *Brain) stop(ctx context.Context, params protocol.StopParams) (bool, error) {
	var stopErr error
	err := b.loop.Call(ctx, func() { stopErr = b.kindergarten.Terminate(params.AvatarID) })
	if err != nil {
		return false, err
	}
	return stopErr == nil, stopErr
}

func (b *Brain) getComponents(ctx context.Context, _ struct{}) ([]protocol.Kid, error) {
	return b.Kids(ctx)
}

// kidExited fails a start whose job died before reporting.
func (b *Brain) kidExited(kid Kid, err error) {
	b.pool.Release(kid.AvatarID)
	reason := ErrJobExited
	if err != nil {
		reason = fmt.Errorf("%w: %w", ErrJobExited, err)
	}
	b.starts.Failed(kid.AvatarID, reason)
}
