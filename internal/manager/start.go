package manager

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"conduit/internal/avatar"
	"conduit/internal/feed"
	"conduit/internal/logging"
	"conduit/internal/protocol"
)

// componentRegistered records what a component eats and feeds, then starts
// it once every feed it eats is ready. Loop only.
func (v *Vishnu) componentRegistered(entry *componentEntry, result protocol.RegisterResult) {
	eaters := make([]string, 0, len(result.Eaters))
	for _, name := range result.Eaters {
		eaters = append(eaters, feed.Qualify(name))
	}
	feeders := make([]string, 0, len(result.Feeders))
	for _, name := range result.Feeders {
		feeders = append(feeders, feed.Name(name))
	}
	entry.eaters = eaters
	entry.feeders = feeders
	entry.state.Set(KeyEaters, slices.Clone(eaters))
	entry.state.Set(KeyFeeders, slices.Clone(feeders))
	if result.PID != 0 {
		entry.state.Set(KeyPID, result.PID)
	}

	host := result.Host
	if isUnspecified(host) {
		host = entry.peerHost
	}
	v.feeds.AddFeeders(entry.name, host, feeders)
	for _, eater := range eaters {
		if err := v.addFeedEdge(feed.Component(eater), entry.name); err != nil {
			v.componentFailed(entry, fmt.Errorf("eater %s: %w", eater, err))
			return
		}
	}
	v.logger.Info("component registered",
		logging.String(logging.FieldAvatarID, entry.name),
		logging.Strings("eaters", eaters),
		logging.Strings("feeders", feeders),
		logging.String("host", host),
	)
	v.notifyAdmins(protocol.AdminComponentAdded, entry.info())

	if len(eaters) == 0 {
		entry.starting = true
		v.start(entry)
		return
	}
	generation := entry.generation
	for _, eater := range eaters {
		v.feeds.DependOnFeed(eater, func() { v.maybeStart(entry, generation) })
	}
}

// maybeStart starts entry when every feed it eats is ready. The starting
// latch is set before anything asynchronous so a second ready feed cannot
// start it twice.
func (v *Vishnu) maybeStart(entry *componentEntry, generation int) {
	if entry.generation != generation || entry.avatar == nil {
		return
	}
	if entry.starting || entry.started {
		return
	}
	if !v.feeds.AllReady(entry.eaters) {
		return
	}
	entry.starting = true
	v.start(entry)
}

// feedReady marks a component's feeder ready. Loop only.
func (v *Vishnu) feedReady(entry *componentEntry, feedName string) {
	name := feed.Join(entry.name, feed.Name(feedName))
	if v.feeds.FeedReady(name) {
		v.metrics.feedsReady.Set(float64(v.feeds.ReadyCount()))
		v.logger.Info("feed ready", logging.String(logging.FieldFeed, name))
	}
}

// start wires entry: eaters get the host and port of the feeds they eat,
// feeders get ports, then the component is linked. Loop only.
func (v *Vishnu) start(entry *componentEntry) {
	c := entry.avatar
	generation := entry.generation
	current := func() bool { return entry.avatar == c && entry.generation == generation }

	eaters, err := v.eaterTuples(entry)
	if err != nil {
		v.startFailed(entry, err)
		return
	}
	feeders, err := v.feederTuples(entry)
	if err != nil {
		v.startFailed(entry, err)
		return
	}

	link := func(feeders []protocol.FeedTuple) {
		ctx, cancel := context.WithTimeout(context.Background(), componentCallTimeout)
		params := protocol.LinkParams{Eaters: eaters, Feeders: feeders}
		c.MindCallRemote(ctx, protocol.ComponentLink, params, nil, func(err error) {
			cancel()
			if !current() {
				return
			}
			if err != nil {
				v.startFailed(entry, fmt.Errorf("link: %w", err))
				return
			}
			entry.starting = false
			entry.setStarted(true)
			v.metrics.starts.WithLabelValues(entry.name, "linked").Inc()
			v.logger.Info("component linked",
				logging.String(logging.FieldAvatarID, entry.name),
				logging.Int("eaters", len(eaters)),
				logging.Int("feeders", len(feeders)),
			)
			if len(feeders) > 0 {
				v.relinkChildren(entry)
			}
		})
	}

	if len(feeders) == 0 {
		link(nil)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), componentCallTimeout)
	var assigned []protocol.FeedTuple
	c.MindCallRemote(ctx, protocol.ComponentGetFreePorts, feeders, &assigned, func(err error) {
		cancel()
		if !current() {
			return
		}
		if err != nil {
			v.startFailed(entry, fmt.Errorf("get free ports: %w", err))
			return
		}
		entry.listenPorts = make(map[string]int, len(assigned))
		for _, tuple := range assigned {
			name := feed.Name(tuple.Feed)
			entry.listenPorts[name] = tuple.Port
			v.feeds.SetPort(feed.Join(entry.name, name), tuple.Port)
		}
		entry.state.Set(KeyListenPorts, maps.Clone(entry.listenPorts))
		link(assigned)
	})
}

// eaterTuples locates every feed entry eats. A feeder that listens on
// loopback is reached through the address the manager sees it connect from
// when entry runs elsewhere.
func (v *Vishnu) eaterTuples(entry *componentEntry) ([]protocol.FeedTuple, error) {
	tuples := make([]protocol.FeedTuple, 0, len(entry.eaters))
	for _, eater := range entry.eaters {
		owner, ok := v.feeds.Owner(eater)
		if !ok {
			return nil, fmt.Errorf("no component feeds %s", eater)
		}
		host := owner.Host
		if isLoopback(host) && !isLoopback(entry.peerHost) {
			if upstream, ok := v.entries[owner.Component]; ok && upstream.peerHost != "" {
				host = upstream.peerHost
			}
		}
		tuples = append(tuples, protocol.FeedTuple{Feed: eater, Host: host, Port: owner.Port})
	}
	return tuples, nil
}

// feederTuples assigns cursor ports to the feeders of a component running on
// the manager host, keeping a restarted feeder on its previous port when it
// is free. Remote components pick their own ports.
func (v *Vishnu) feederTuples(entry *componentEntry) ([]protocol.FeedTuple, error) {
	local := isLoopback(entry.peerHost)
	tuples := make([]protocol.FeedTuple, 0, len(entry.feeders))
	for _, name := range entry.feeders {
		port := 0
		if local {
			if prev := entry.listenPorts[name]; prev != 0 && v.cursor.Take(entry.name, prev) {
				tuples = append(tuples, protocol.FeedTuple{Feed: name, Port: prev})
				continue
			}
			next, err := v.cursor.Next(entry.name)
			if err != nil {
				return nil, fmt.Errorf("feeder %s: %w", name, err)
			}
			port = next
		}
		tuples = append(tuples, protocol.FeedTuple{Feed: name, Port: port})
	}
	return tuples, nil
}

func (v *Vishnu) startFailed(entry *componentEntry, err error) {
	v.metrics.starts.WithLabelValues(entry.name, "failed").Inc()
	v.componentFailed(entry, err)
}

// relinkChildren sends the current feeder addresses of entry to the started
// components that eat from it. A component only restarts the eaters whose
// upstream changed. Loop only.
func (v *Vishnu) relinkChildren(entry *componentEntry) {
	children, err := v.graph.Children(entry.name)
	if err != nil {
		return
	}
	for _, name := range children {
		child, ok := v.entries[name]
		if !ok || child.avatar == nil || !child.started {
			continue
		}
		eaters, err := v.eaterTuples(child)
		if err != nil {
			v.logger.Warn("cannot relink eaters",
				logging.String(logging.FieldAvatarID, child.name),
				logging.String("upstream", entry.name),
				logging.Error(err),
			)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), componentCallTimeout)
		params := protocol.LinkParams{Eaters: eaters}
		child.avatar.MindCallRemote(ctx, protocol.ComponentLink, params, nil, func(err error) {
			cancel()
			switch {
			case err == nil:
				v.logger.Debug("eaters relinked",
					logging.String(logging.FieldAvatarID, child.name),
					logging.String("upstream", entry.name),
				)
			case !errors.Is(err, avatar.ErrDeadReference):
				v.logger.Warn("relink failed",
					logging.String(logging.FieldAvatarID, child.name),
					logging.String("upstream", entry.name),
					logging.Error(err),
				)
			}
		})
	}
}
