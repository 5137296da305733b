package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"conduit/internal/avatar"
	"conduit/internal/bouncer"
	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/mood"
	"conduit/internal/protocol"
	"conduit/internal/services"
	"conduit/internal/store"
)

const (
	adminPushTimeout    = 5 * time.Second
	defaultHistoryLimit = 50
)

// AdminAvatar is a logged in admin client. It receives component events and
// may inspect and steer components.
type AdminAvatar struct {
	*avatar.Base
	manager *Vishnu
}

func (v *Vishnu) newAdminAvatar(id string) (*AdminAvatar, error) {
	return &AdminAvatar{
		Base:    avatar.NewBase(v.loop, ipc.InterfaceAdmin, id, v.logger),
		manager: v,
	}, nil
}

func (a *AdminAvatar) Handlers() ipc.Handlers {
	return ipc.Handlers{
		protocol.AdminGetComponents:  ipc.Bind(a.getComponents),
		protocol.AdminGetComponent:   ipc.Bind(a.getComponent),
		protocol.AdminStartComponent: ipc.Bind(a.startComponent),
		protocol.AdminStopComponent:  ipc.Bind(a.stopComponent),
		protocol.AdminSetMood:        ipc.Bind(a.setMood),
		protocol.AdminCallComponent:  ipc.Bind(a.callComponent),
		protocol.AdminGetGraph:       ipc.Bind(a.getGraph),
		protocol.AdminGetStartOrder:  ipc.Bind(a.getStartOrder),
		protocol.AdminGetKeycards:    ipc.Bind(a.getKeycards),
		protocol.AdminRemoveKeycard:  ipc.Bind(a.removeKeycard),
		protocol.AdminExpireKeycard:  ipc.Bind(a.expireKeycard),
		protocol.AdminGetHistory:     ipc.Bind(a.getHistory),
		protocol.AdminGetAudit:       ipc.Bind(a.getAudit),
		protocol.AdminGetFeeds:       ipc.Bind(a.getFeeds),
	}
}

func (a *AdminAvatar) Attached(mind ipc.Mind) {
	a.Base.Attached(mind)
	v := a.manager
	v.metrics.avatars.WithLabelValues(ipc.InterfaceAdmin).Set(float64(v.admins.Len()))
	v.logger.Info("admin attached", logging.String(logging.FieldAvatarID, a.ID()), logging.String("peer", mind.Addr()))
}

func (a *AdminAvatar) Detached(mind ipc.Mind) error {
	if err := a.Base.Detached(mind); err != nil {
		return err
	}
	v := a.manager
	v.logger.Info("admin detached", logging.String(logging.FieldAvatarID, a.ID()))
	v.loop.Post(func() {
		v.metrics.avatars.WithLabelValues(ipc.InterfaceAdmin).Set(float64(v.admins.Len()))
	})
	return nil
}

// notifyAdmins pushes method with payload to every attached admin. Loop only.
func (v *Vishnu) notifyAdmins(method string, payload any) {
	for _, admin := range v.admins.List() {
		if !admin.HasMind() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), adminPushTimeout)
		admin.MindCallRemote(ctx, method, payload, nil, func(err error) {
			cancel()
			if err != nil {
				admin.Logger().Debug("admin push failed", logging.String(logging.FieldMethod, method), logging.Error(err))
			}
		})
	}
}

// lookup returns the entry for name. Loop only.
func (v *Vishnu) lookup(name string) (*componentEntry, error) {
	entry, ok := v.entries[name]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "manager", "lookup", fmt.Sprintf("unknown component %q", name), nil)
	}
	return entry, nil
}

func (a *AdminAvatar) getComponents(ctx context.Context, _ struct{}) ([]protocol.ComponentInfo, error) {
	return a.manager.Components(ctx)
}

func (a *AdminAvatar) getComponent(ctx context.Context, params protocol.NameParams) (protocol.ComponentInfo, error) {
	return a.manager.Component(ctx, params.Name)
}

// startComponent asks a worker to start a sleeping component and waits for
// the worker to report the job started.
func (a *AdminAvatar) startComponent(ctx context.Context, params protocol.NameParams) (bool, error) {
	v := a.manager
	done := make(chan error, 1)
	var startErr error
	err := v.loop.Call(ctx, func() {
		entry, err := v.lookup(params.Name)
		if err != nil {
			startErr = err
			return
		}
		if !entry.mood().CanStart() || entry.avatar != nil || entry.requested {
			startErr = fmt.Errorf("%w: %s is %s", ErrInvalidState, entry.name, entry.mood())
			return
		}
		w, ok := v.pickWorker(entry)
		if !ok {
			startErr = fmt.Errorf("%w: %s", ErrNoWorker, entry.name)
			return
		}
		v.logger.Info("admin starting component",
			logging.String(logging.FieldAvatarID, entry.name),
			logging.String("admin", a.ID()),
		)
		v.requestStart(w, entry, func(err error) { done <- err })
	})
	if err != nil {
		return false, err
	}
	if startErr != nil {
		return false, startErr
	}
	select {
	case err := <-done:
		return err == nil, err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// stopComponent asks a running component to stop. Its entry goes to
// sleeping once it disconnects.
func (a *AdminAvatar) stopComponent(ctx context.Context, params protocol.NameParams) (bool, error) {
	v := a.manager
	var (
		target  *ComponentAvatar
		stopErr error
	)
	err := v.loop.Call(ctx, func() {
		entry, err := v.lookup(params.Name)
		if err != nil {
			stopErr = err
			return
		}
		if !entry.mood().CanStop() || entry.avatar == nil {
			stopErr = fmt.Errorf("%w: %s is %s", ErrInvalidState, entry.name, entry.mood())
			return
		}
		entry.stopping = true
		target = entry.avatar
		v.logger.Info("admin stopping component",
			logging.String(logging.FieldAvatarID, entry.name),
			logging.String("admin", a.ID()),
		)
	})
	if err != nil {
		return false, err
	}
	if stopErr != nil {
		return false, stopErr
	}
	if err := target.CallRemote(ctx, protocol.ComponentStop, nil, nil); err != nil {
		return false, err
	}
	return true, nil
}

// setMood is an explicit corrective action; it is the only way out of sad.
func (a *AdminAvatar) setMood(ctx context.Context, params protocol.SetMoodParams) (bool, error) {
	if !params.Mood.Valid() {
		return false, fmt.Errorf("%w: invalid mood %d", ipc.ErrInvalidParams, int(params.Mood))
	}
	v := a.manager
	var (
		target  *ComponentAvatar
		moodErr error
	)
	err := v.loop.Call(ctx, func() {
		entry, err := v.lookup(params.Name)
		if err != nil {
			moodErr = err
			return
		}
		v.logger.Info("admin set mood",
			logging.String(logging.FieldAvatarID, entry.name),
			logging.String(logging.FieldMood, params.Mood.String()),
			logging.String("admin", a.ID()),
		)
		entry.setMood(params.Mood, "")
		target = entry.avatar
	})
	if err != nil {
		return false, err
	}
	if moodErr != nil {
		return false, moodErr
	}
	if target != nil {
		if err := target.CallRemote(ctx, protocol.ComponentSetMood, protocol.MoodParams{Mood: params.Mood}, nil); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (a *AdminAvatar) callComponent(ctx context.Context, params protocol.CallComponentParams) (json.RawMessage, error) {
	if strings.TrimSpace(params.Method) == "" {
		return nil, fmt.Errorf("%w: method required", ipc.ErrInvalidParams)
	}
	v := a.manager
	var (
		target  *ComponentAvatar
		callErr error
	)
	err := v.loop.Call(ctx, func() {
		entry, err := v.lookup(params.Name)
		if err != nil {
			callErr = err
			return
		}
		if entry.avatar == nil {
			callErr = fmt.Errorf("%w: %s", avatar.ErrNoMind, entry.name)
			return
		}
		target = entry.avatar
	})
	if err != nil {
		return nil, err
	}
	if callErr != nil {
		return nil, callErr
	}
	var result json.RawMessage
	err = target.CallRemote(ctx, protocol.ComponentCallMethod, protocol.CallMethodParams{Method: params.Method, Args: params.Args}, &result)
	return result, err
}

func (a *AdminAvatar) getGraph(ctx context.Context, _ struct{}) (string, error) {
	v := a.manager
	var (
		b        strings.Builder
		writeErr error
	)
	err := v.loop.Call(ctx, func() {
		writeErr = v.graph.WriteDOT(&b, "conduit", nil)
	})
	if err != nil {
		return "", err
	}
	return b.String(), writeErr
}

func (a *AdminAvatar) getStartOrder(ctx context.Context, _ struct{}) ([]string, error) {
	v := a.manager
	var (
		order   []string
		sortErr error
	)
	err := v.loop.Call(ctx, func() {
		order, sortErr = v.startOrder()
	})
	if err != nil {
		return nil, err
	}
	return order, sortErr
}

func (a *AdminAvatar) getKeycards(ctx context.Context, _ struct{}) ([]bouncer.Keycard, error) {
	v := a.manager
	var out []bouncer.Keycard
	err := v.loop.Call(ctx, func() {
		out = v.bouncer.Keycards()
	})
	return out, err
}

func (a *AdminAvatar) removeKeycard(ctx context.Context, params protocol.KeycardParams) (bool, error) {
	v := a.manager
	var removeErr error
	err := v.loop.Call(ctx, func() {
		removeErr = v.bouncer.RemoveKeycardID(params.ID)
	})
	if err != nil {
		return false, err
	}
	return removeErr == nil, removeErr
}

// expireKeycard drops a keycard and closes the session it was issued to.
func (a *AdminAvatar) expireKeycard(ctx context.Context, params protocol.KeycardParams) (bool, error) {
	v := a.manager
	var expireErr error
	err := v.loop.Call(ctx, func() {
		expireErr = v.bouncer.ExpireKeycardID(params.ID)
	})
	if err != nil {
		return false, err
	}
	return expireErr == nil, expireErr
}

func (a *AdminAvatar) getHistory(ctx context.Context, params protocol.HistoryParams) ([]store.MoodRecord, error) {
	s := a.manager.history.store
	if s == nil {
		return nil, ErrHistoryDisabled
	}
	if params.Latest {
		return s.LatestMoods(ctx)
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.MoodHistory(ctx, params.Component, limit)
}

// getAudit returns the newest keycard decisions.
func (a *AdminAvatar) getAudit(ctx context.Context, params protocol.HistoryParams) ([]store.KeycardRecord, error) {
	s := a.manager.history.store
	if s == nil {
		return nil, ErrHistoryDisabled
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.KeycardAudit(ctx, limit)
}

func (a *AdminAvatar) getFeeds(ctx context.Context, _ struct{}) ([]protocol.FeedInfo, error) {
	v := a.manager
	var out []protocol.FeedInfo
	err := v.loop.Call(ctx, func() {
		for _, status := range v.feeds.Feeds() {
			out = append(out, protocol.FeedInfo{
				Name:      status.Name,
				Ready:     status.Ready,
				Pending:   status.Pending,
				Component: status.Owner.Component,
				Host:      status.Owner.Host,
				Port:      status.Owner.Port,
			})
		}
	})
	return out, err
}

func (v *Vishnu) recordMood(entry *componentEntry, current mood.Mood) {
	v.history.mood(store.MoodRecord{
		Component:  entry.name,
		Worker:     entry.worker(),
		Mood:       current,
		Message:    entry.message(),
		RecordedAt: v.now().UTC(),
	})
}
