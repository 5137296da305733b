package manager

import (
	"time"

	"conduit/internal/ipc"
	"conduit/internal/mood"
	"conduit/internal/notifications"
	"conduit/internal/protocol"
	"conduit/internal/state"
)

// checkHeartbeats marks connected components that went silent as lost and
// refreshes the gauges. It runs on the loop every heartbeat interval.
func (v *Vishnu) checkHeartbeats() {
	timeout := time.Duration(v.cfg.Component.HeartbeatTimeout) * time.Second
	now := v.now()
	for _, name := range v.order {
		entry := v.entries[name]
		if entry.avatar == nil || entry.lastHeartbeat.IsZero() {
			continue
		}
		if timeout > 0 && now.Sub(entry.lastHeartbeat) > timeout {
			v.markLost(entry, "no heartbeat since "+entry.lastHeartbeat.UTC().Format(time.RFC3339))
		}
	}
	v.metrics.avatars.WithLabelValues(ipc.InterfaceWorker).Set(float64(v.workers.Len()))
	v.metrics.avatars.WithLabelValues(ipc.InterfaceComponent).Set(float64(v.components.Len()))
	v.metrics.avatars.WithLabelValues(ipc.InterfaceAdmin).Set(float64(v.admins.Len()))
	v.metrics.keycards.Set(float64(len(v.bouncer.Keycards())))
	v.metrics.feedsReady.Set(float64(v.feeds.ReadyCount()))
}

// componentStateChanged forwards component state to admins, the event hub,
// metrics and history. Loop only.
func (v *Vishnu) componentStateChanged(ev state.Event) {
	entry, ok := v.entries[ev.Store]
	if !ok {
		return
	}
	event := protocol.StateEvent{
		Component: ev.Store,
		Key:       ev.Key,
		Kind:      string(ev.Kind),
		Value:     ev.New,
		Time:      v.now().UTC(),
	}
	v.hub.Broadcast(event)
	if ev.Key == KeyLastHeartbeat {
		return
	}
	v.notifyAdmins(protocol.AdminStateChanged, event)
	if ev.Key == KeyMood {
		current, ok := ev.New.(mood.Mood)
		if !ok {
			return
		}
		v.metrics.setMood(entry.name, current)
		v.recordMood(entry, current)
		previous, known := ev.Old.(mood.Mood)
		if known && notifications.ShouldAlert(previous, current, v.alerts.Recovery()) {
			v.alerts.Send(notifications.Alert{
				Component: entry.name,
				Worker:    entry.worker(),
				Mood:      current,
				Previous:  previous,
				Message:   entry.message(),
			})
		}
	}
}
