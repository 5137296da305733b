package manager

import (
	"context"
	"errors"
	"time"

	"conduit/internal/avatar"
	"conduit/internal/config"
	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/mood"
	"conduit/internal/protocol"
)

const workerCallTimeout = 30 * time.Second

// WorkerAvatar is a logged in worker daemon.
type WorkerAvatar struct {
	*avatar.Base
	manager *Vishnu
}

func (v *Vishnu) newWorkerAvatar(id string) (*WorkerAvatar, error) {
	return &WorkerAvatar{
		Base:    avatar.NewBase(v.loop, ipc.InterfaceWorker, id, v.logger),
		manager: v,
	}, nil
}

// Handlers: workers only renew their keycard, which the dispatcher serves.
func (w *WorkerAvatar) Handlers() ipc.Handlers {
	return ipc.Handlers{}
}

// Attached starts every configured component this worker should run. Sad
// components wait for an admin to clear their mood.
func (w *WorkerAvatar) Attached(mind ipc.Mind) {
	w.Base.Attached(mind)
	v := w.manager
	v.metrics.avatars.WithLabelValues(ipc.InterfaceWorker).Set(float64(v.workers.Len()))
	v.logger.Info("worker attached", logging.String("worker", w.ID()), logging.String("peer", mind.Addr()))
	for _, comp := range v.cfg.ComponentsForWorker(w.ID()) {
		entry := v.entries[comp.Name]
		if entry == nil || entry.avatar != nil || entry.requested || entry.mood() == mood.Sad {
			continue
		}
		v.requestStart(w, entry, nil)
	}
}

// Detached keeps the worker's component entries and marks the ones that were
// running lost. Components still connected correct that with their next
// heartbeat.
func (w *WorkerAvatar) Detached(mind ipc.Mind) error {
	if err := w.Base.Detached(mind); err != nil {
		return err
	}
	v := w.manager
	v.logger.Info("worker detached", logging.String("worker", w.ID()))
	for _, name := range v.order {
		entry := v.entries[name]
		if entry.worker() != w.ID() {
			continue
		}
		entry.requested = false
		if m := entry.mood(); m != mood.Sleeping && m != mood.Sad {
			v.markLost(entry, "worker "+w.ID()+" disconnected")
		}
	}
	// The avatar is removed right after this returns.
	v.loop.Post(func() {
		v.metrics.avatars.WithLabelValues(ipc.InterfaceWorker).Set(float64(v.workers.Len()))
	})
	return nil
}

// requestStart asks worker to start entry. done, when not nil, receives the
// outcome on the loop. Loop only.
func (v *Vishnu) requestStart(w *WorkerAvatar, entry *componentEntry, done func(error)) {
	entry.requested = true
	entry.state.Set(KeyWorker, w.ID())
	params := protocol.StartParams{
		AvatarID: entry.name,
		Type:     entry.cfg.Type,
		Config:   v.componentConfig(entry.cfg, w.ID()),
	}
	v.logger.Info("requesting component start",
		logging.String(logging.FieldAvatarID, entry.name),
		logging.String("worker", w.ID()),
	)
	ctx, cancel := context.WithTimeout(context.Background(), workerCallTimeout)
	var result protocol.StartResult
	w.MindCallRemote(ctx, protocol.WorkerStart, params, &result, func(err error) {
		cancel()
		switch {
		case errors.Is(err, avatar.ErrDeadReference):
			entry.requested = false
			v.metrics.starts.WithLabelValues(entry.name, "failed").Inc()
			v.markLost(entry, "worker "+w.ID()+" went away during start")
		case err != nil:
			entry.requested = false
			v.metrics.starts.WithLabelValues(entry.name, "failed").Inc()
			logging.WarnWithContext(v.logger, "component start failed", "component_start_failed",
				logging.String(logging.FieldAvatarID, entry.name),
				logging.String("worker", w.ID()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "component stays down"),
				logging.String(logging.FieldErrorHint, "fix the component and start it again with conduit start"),
			)
			entry.setMood(mood.Sad, err.Error())
		default:
			entry.state.Set(KeyPID, result.PID)
		}
		if done != nil {
			done(err)
		}
	})
}

func (v *Vishnu) componentConfig(comp config.Component, worker string) protocol.ComponentConfig {
	return protocol.ComponentConfig{
		Name:              comp.Name,
		Type:              comp.Type,
		Worker:            worker,
		Eaters:            comp.Eaters,
		Feeders:           comp.Feeders,
		Properties:        comp.Properties,
		HeartbeatInterval: float64(v.cfg.Component.HeartbeatInterval),
		ReconnectInterval: float64(v.cfg.Component.ReconnectInterval),
	}
}

// pickWorker returns the worker that should run entry.
func (v *Vishnu) pickWorker(entry *componentEntry) (*WorkerAvatar, bool) {
	if entry.cfg.Worker != "" {
		w, ok := v.workers.Get(entry.cfg.Worker)
		return w, ok && w.HasMind()
	}
	if current := entry.worker(); current != "" {
		if w, ok := v.workers.Get(current); ok && w.HasMind() {
			return w, true
		}
	}
	for _, w := range v.workers.List() {
		if w.HasMind() {
			return w, true
		}
	}
	return nil, false
}
