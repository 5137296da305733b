package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"conduit/internal/avatar"
	"conduit/internal/config"
	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/mood"
	"conduit/internal/protocol"
)

const componentCallTimeout = 30 * time.Second

// ComponentAvatar is one running component as seen by the manager. Its
// avatar id is the component name.
type ComponentAvatar struct {
	*avatar.Base
	manager *Vishnu
}

func (v *Vishnu) newComponentAvatar(id string) (*ComponentAvatar, error) {
	c := &ComponentAvatar{
		Base:    avatar.NewBase(v.loop, ipc.InterfaceComponent, id, v.logger),
		manager: v,
	}
	c.OnMindLost(func(err error) {
		if entry, ok := v.entries[id]; ok && entry.avatar == c && !entry.stopping {
			v.markLost(entry, err.Error())
		}
	})
	return c, nil
}

// Handlers serves the calls a component makes on the manager.
func (c *ComponentAvatar) Handlers() ipc.Handlers {
	return ipc.Handlers{
		protocol.ManagerHeartbeat:        ipc.Bind(c.heartbeat),
		protocol.ManagerFeedStateChanged: ipc.Bind(c.feedStateChanged),
		protocol.ManagerError:            ipc.Bind(c.reportError),
		protocol.ManagerUIStateChanged:   ipc.Bind(c.uiStateChanged),
	}
}

// Attached links the avatar to its component entry and asks the component
// to register.
func (c *ComponentAvatar) Attached(mind ipc.Mind) {
	c.Base.Attached(mind)
	v := c.manager
	entry := v.entries[c.ID()]
	if entry == nil {
		comp, ok := v.cfg.FindComponent(c.ID())
		if !ok {
			comp = config.Component{Name: c.ID()}
		}
		entry = v.ensureEntry(comp, ok)
	}
	entry.avatar = c
	entry.generation++
	entry.starting = false
	entry.stopping = false
	entry.requested = false
	entry.setStarted(false)
	entry.peerHost = mindHost(mind)
	entry.lastHeartbeat = v.now()
	if entry.mood() != mood.Sad {
		entry.setMood(mood.Waking, "")
	}
	v.metrics.avatars.WithLabelValues(ipc.InterfaceComponent).Set(float64(v.components.Len()))
	v.logger.Info("component attached",
		logging.String(logging.FieldAvatarID, c.ID()),
		logging.String("peer", mind.Addr()),
	)

	generation := entry.generation
	ctx, cancel := context.WithTimeout(context.Background(), componentCallTimeout)
	var result protocol.RegisterResult
	c.MindCallRemote(ctx, protocol.ComponentRegister, nil, &result, func(err error) {
		cancel()
		if entry.avatar != c || entry.generation != generation {
			return
		}
		if err != nil {
			v.componentFailed(entry, fmt.Errorf("register: %w", err))
			return
		}
		v.componentRegistered(entry, result)
	})
}

// Detached leaves the component entry in place with mood lost, or sleeping
// when the component was asked to stop. Sad survives.
func (c *ComponentAvatar) Detached(mind ipc.Mind) error {
	if err := c.Base.Detached(mind); err != nil {
		return err
	}
	v := c.manager
	entry, ok := v.entries[c.ID()]
	if !ok || entry.avatar != c {
		return nil
	}
	entry.avatar = nil
	entry.starting = false
	entry.setStarted(false)
	v.cursor.Release(entry.name)
	switch {
	case entry.stopping:
		entry.stopping = false
		if entry.mood() != mood.Sad {
			entry.setMood(mood.Sleeping, "")
		}
	case entry.mood() != mood.Sad:
		v.markLost(entry, "component disconnected")
	}
	v.logger.Info("component detached",
		logging.String(logging.FieldAvatarID, c.ID()),
		logging.String(logging.FieldMood, entry.mood().String()),
	)
	v.notifyAdmins(protocol.AdminComponentRemoved, entry.info())
	v.loop.Post(func() {
		v.metrics.avatars.WithLabelValues(ipc.InterfaceComponent).Set(float64(v.components.Len()))
	})
	return nil
}

func (c *ComponentAvatar) heartbeat(ctx context.Context, params protocol.MoodParams) (bool, error) {
	v := c.manager
	err := v.loop.Call(ctx, func() {
		entry, ok := v.entries[c.ID()]
		if !ok || entry.avatar != c {
			return
		}
		entry.lastHeartbeat = v.now()
		entry.state.Set(KeyLastHeartbeat, entry.lastHeartbeat)
		v.metrics.heartbeats.Inc()
		if !params.Mood.Valid() {
			return
		}
		// Only an explicit setMood clears sad.
		if entry.mood() == mood.Sad && params.Mood != mood.Sad {
			return
		}
		if params.Mood != entry.mood() {
			entry.setMood(params.Mood, params.Message)
		}
	})
	return err == nil, err
}

func (c *ComponentAvatar) feedStateChanged(ctx context.Context, params protocol.FeedStateParams) (bool, error) {
	v := c.manager
	err := v.loop.Call(ctx, func() {
		entry, ok := v.entries[c.ID()]
		if !ok || entry.avatar != c {
			return
		}
		v.logger.Debug("feed state changed",
			logging.String(logging.FieldAvatarID, c.ID()),
			logging.String(logging.FieldFeed, params.Feed),
			logging.String("kind", params.Kind),
			logging.String("old", string(params.Old)),
			logging.String("new", string(params.New)),
		)
		if params.Kind != mood.Feeder.String() {
			return
		}
		if params.Old == mood.StatePaused && params.New == mood.StatePlaying {
			v.feedReady(entry, params.Feed)
		}
	})
	return err == nil, err
}

func (c *ComponentAvatar) reportError(ctx context.Context, params protocol.ErrorParams) (bool, error) {
	v := c.manager
	err := v.loop.Call(ctx, func() {
		entry, ok := v.entries[c.ID()]
		if !ok || entry.avatar != c {
			return
		}
		message := params.Message
		if params.Element != "" {
			message = params.Element + ": " + message
		}
		logging.WarnWithContext(v.logger, "component reported an error", "component_error",
			logging.String(logging.FieldAvatarID, c.ID()),
			logging.String("element", params.Element),
			logging.String("message", params.Message),
			logging.String(logging.FieldImpact, "component marked sad"),
			logging.String(logging.FieldErrorHint, "inspect the component log, then clear with conduit mood"),
		)
		entry.setMood(mood.Sad, message)
	})
	return err == nil, err
}

func (c *ComponentAvatar) uiStateChanged(ctx context.Context, params protocol.UIStateParams) (bool, error) {
	if params.Key == "" {
		return false, fmt.Errorf("%w: ui state key required", ipc.ErrInvalidParams)
	}
	v := c.manager
	err := v.loop.Call(ctx, func() {
		entry, ok := v.entries[c.ID()]
		if !ok || entry.avatar != c {
			return
		}
		entry.ui[params.Key] = params.Value
		v.hub.Broadcast(protocol.StateEvent{
			Component: entry.name,
			Key:       "ui." + params.Key,
			Kind:      "set",
			Value:     params.Value,
			Time:      v.now(),
		})
	})
	return err == nil, err
}

// markLost moves entry to lost with message. Loop only.
func (v *Vishnu) markLost(entry *componentEntry, message string) {
	if entry.mood() == mood.Lost || entry.mood() == mood.Sad {
		return
	}
	v.metrics.lost.Inc()
	logging.WarnWithContext(v.logger, "component lost", "component_lost",
		logging.String(logging.FieldAvatarID, entry.name),
		logging.String("reason", message),
		logging.String(logging.FieldImpact, "component feeds are unavailable"),
		logging.String(logging.FieldErrorHint, "check the worker running the component"),
	)
	entry.setMood(mood.Lost, message)
}

// componentFailed marks entry sad unless the failure was the connection
// going away, which the mind-lost hook already reported.
func (v *Vishnu) componentFailed(entry *componentEntry, err error) {
	entry.starting = false
	v.cursor.Release(entry.name)
	if errors.Is(err, avatar.ErrDeadReference) {
		return
	}
	logging.WarnWithContext(v.logger, "component failed", "component_failed",
		logging.String(logging.FieldAvatarID, entry.name),
		logging.Error(err),
		logging.String(logging.FieldImpact, "component marked sad"),
		logging.String(logging.FieldErrorHint, "inspect the component log, then clear with conduit mood"),
	)
	entry.setMood(mood.Sad, err.Error())
}

// mindHost returns the host part of a mind address.
func mindHost(mind ipc.Mind) string {
	host, _, err := net.SplitHostPort(mind.Addr())
	if err != nil {
		return ""
	}
	return host
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func isUnspecified(host string) bool {
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsUnspecified()
}
