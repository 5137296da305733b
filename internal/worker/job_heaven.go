package worker

import (
	"context"
	"fmt"
	"time"

	"conduit/internal/avatar"
	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/protocol"
	"conduit/internal/services"
)

const jobCallTimeout = 20 * time.Second

// JobAvatar is a job process logged in to the worker.
type JobAvatar struct {
	*avatar.Base
	brain *Brain
}

func (b *Brain) newJobAvatar(id string) (*JobAvatar, error) {
	if _, pending := b.starts.Get(id); !pending {
		return nil, services.Wrap(services.ErrNotFound, "worker", "job login", fmt.Sprintf("no start pending for %s", id), nil)
	}
	return &JobAvatar{
		Base:  avatar.NewBase(b.loop, ipc.InterfaceJob, id, b.logger),
		brain: b,
	}, nil
}

// Handlers is empty; jobs only answer the worker.
func (j *JobAvatar) Handlers() ipc.Handlers {
	return ipc.Handlers{}
}

// Attached bootstraps the job, reserves its feeder ports and starts its
// component.
func (j *JobAvatar) Attached(mind ipc.Mind) {
	j.Base.Attached(mind)
	b := j.brain
	pending, ok := b.starts.Get(j.ID())
	if !ok {
		j.Logger().Debug("job attached without a pending start")
		return
	}

	bootstrap := protocol.BootstrapParams{
		Manager:  b.cfg.Worker.Manager,
		Username: b.cfg.Worker.Username,
		Password: b.cfg.Worker.Password,
		Worker:   b.cfg.Worker.Name,
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobCallTimeout)
	j.MindCallRemote(ctx, protocol.JobBootstrap, bootstrap, nil, func(err error) {
		cancel()
		if err != nil {
			b.starts.Failed(j.ID(), fmt.Errorf("bootstrap: %w", err))
			return
		}
		j.start(pending.Params)
	})
}

func (j *JobAvatar) start(params protocol.StartParams) {
	b := j.brain
	feeders := params.Config.Feeders
	feedPorts := make(map[string]int, len(feeders))
	if len(feeders) > 0 && b.pool.Available() > 0 {
		reserved, err := b.pool.Reserve(j.ID(), min(len(feeders), b.pool.Available()))
		if err != nil {
			j.Logger().Debug("no feeder ports reserved", logging.Error(err))
		}
		for i, port := range reserved {
			feedPorts[feeders[i]] = port
		}
	}

	start := protocol.JobStartParams{
		AvatarID:  j.ID(),
		Config:    params.Config,
		FeedPorts: feedPorts,
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobCallTimeout)
	j.MindCallRemote(ctx, protocol.JobStart, start, nil, func(err error) {
		cancel()
		if err != nil {
			b.pool.Release(j.ID())
			b.starts.Failed(j.ID(), err)
			return
		}
		pid := 0
		if kid, ok := b.kindergarten.Get(j.ID()); ok {
			pid = kid.PID
		}
		j.Logger().Info("component started",
			logging.Int("pid", pid),
			logging.Any("feed_ports", feedPorts),
		)
		b.starts.Trigger(j.ID(), pid)
	})
}

// Detached frees the job's ports and fails a start still pending.
func (j *JobAvatar) Detached(mind ipc.Mind) error {
	if err := j.Base.Detached(mind); err != nil {
		return err
	}
	b := j.brain
	if released := b.pool.Release(j.ID()); len(released) > 0 {
		j.Logger().Debug("feeder ports released", logging.Any("ports", released))
	}
	b.starts.Failed(j.ID(), fmt.Errorf("%w before its component started", ErrJobExited))
	return nil
}
