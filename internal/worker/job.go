package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"conduit/internal/component"
	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/protocol"
)

// JobOptions configures RunJob.
type JobOptions struct {
	// Socket is the worker's job heaven.
	Socket   string
	AvatarID string
	Logger   *slog.Logger
}

// job is the job process side of the job heaven.
type job struct {
	ctx    context.Context
	logger *slog.Logger

	mu        sync.Mutex
	bootstrap *protocol.BootstrapParams
	running   bool
	done      chan error
}

// RunJob logs in to the worker and runs the component it is asked to start
// until ctx ends, the component stops, or the worker goes away.
func RunJob(ctx context.Context, opts JobOptions) error {
	if opts.AvatarID == "" {
		return errors.New("job requires an avatar id")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	j := &job{
		ctx:    ctx,
		logger: logging.NewComponentLogger(opts.Logger, "job").With(logging.String(logging.FieldAvatarID, opts.AvatarID)),
		done:   make(chan error, 1),
	}
	medium, err := ipc.NewMedium(ipc.MediumOptions{
		Network:   "unix",
		Address:   opts.Socket,
		Interface: ipc.InterfaceJob,
		AvatarID:  opts.AvatarID,
		Handlers:  j.handlers(opts.Logger),
		Logger:    opts.Logger,
	})
	if err != nil {
		return err
	}
	defer medium.Close()
	if err := medium.Login(ctx); err != nil {
		return fmt.Errorf("job %s: %w", opts.AvatarID, err)
	}
	j.logger.Debug("logged in to worker", logging.String("socket", opts.Socket))

	select {
	case err := <-j.done:
		return err
	case <-medium.Done():
		j.logger.Info("worker went away, stopping")
		cancel()
		if j.isRunning() {
			return <-j.done
		}
		return nil
	case <-ctx.Done():
		if j.isRunning() {
			return <-j.done
		}
		return nil
	}
}

func (j *job) isRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

func (j *job) handlers(logger *slog.Logger) ipc.Handlers {
	return ipc.Handlers{
		protocol.JobBootstrap: ipc.Bind(func(_ context.Context, params protocol.BootstrapParams) (bool, error) {
			j.mu.Lock()
			defer j.mu.Unlock()
			j.bootstrap = &params
			return true, nil
		}),
		protocol.JobStart: ipc.Bind(func(ctx context.Context, params protocol.JobStartParams) (bool, error) {
			return j.start(ctx, params, logger)
		}),
	}
}

// start runs the component and answers once it logged in to the manager.
func (j *job) start(ctx context.Context, params protocol.JobStartParams, logger *slog.Logger) (bool, error) {
	j.mu.Lock()
	if j.bootstrap == nil {
		j.mu.Unlock()
		return false, fmt.Errorf("%w: start before bootstrap", ErrComponentStart)
	}
	if j.running {
		j.mu.Unlock()
		return false, fmt.Errorf("%w: %s already started", ErrComponentStart, params.AvatarID)
	}
	j.running = true
	boot := *j.bootstrap
	j.mu.Unlock()

	started := make(chan struct{})
	failed := make(chan error, 1)
	go func() {
		err := component.Run(j.ctx, component.RunOptions{
			Config:    params.Config,
			Manager:   boot.Manager,
			Username:  boot.Username,
			Password:  boot.Password,
			FeedPorts: params.FeedPorts,
			Logger:    logger,
			Started:   func() { close(started) },
		})
		select {
		case failed <- err:
		default:
		}
		j.done <- err
	}()

	select {
	case <-started:
		return true, nil
	case err := <-failed:
		if err == nil {
			err = errors.New("component stopped before starting")
		}
		return false, err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
