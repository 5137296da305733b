package component

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"os"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/mood"
	"conduit/internal/ports"
	"conduit/internal/protocol"
	"conduit/internal/reactor"
	"conduit/internal/services"
)

const (
	// freePortBase is where a component looks for feeder ports nobody
	// assigned.
	freePortBase     = 8600
	reportTimeout    = 10 * time.Second
	outboxSize       = 128
	defaultHeartbeat = 5 * time.Second
	defaultReconnect = 3 * time.Second
)

// Reporter delivers calls to the manager.
type Reporter interface {
	CallRemote(ctx context.Context, method string, params, reply any) error
}

// Options configures a component.
type Options struct {
	Config protocol.ComponentConfig
	// FeedPorts are ports the worker reserved, by feed name. Feeders the
	// manager leaves unassigned use them first.
	FeedPorts map[string]int
	Logger    *slog.Logger
	// PortProbe checks whether a feeder port is free. Nil probes every
	// interface.
	PortProbe ports.Probe
}

type report struct {
	method string
	params any
}

// Component is the job side of one pipeline component. Its fields are owned
// by its loop.
type Component struct {
	cfg       protocol.ComponentConfig
	loop      *reactor.Loop
	logger    *slog.Logger
	behavior  Behavior
	machine   *mood.Machine
	message   string
	probe     ports.Probe
	heartbeat time.Duration
	reconnect time.Duration

	reporter    Reporter
	outbox      chan report
	feedPorts   map[string]int
	listenPorts map[string]int
	nextFree    int
	feeders     map[string]*feeder
	feederOrder []string
	eaters      map[string]*eater
	outputs     atomic.Pointer[[]*feeder]
	linked      bool
	beat        *reactor.Timer

	ctx        context.Context
	cancel     context.CancelFunc
	stopRun    context.CancelFunc
	stopped    chan struct{}
	stopOnce   sync.Once
	senderDone chan struct{}
}

// New returns a sleeping component owned by loop.
func New(loop *reactor.Loop, opts Options) (*Component, error) {
	cfg := opts.Config
	if cfg.Name == "" {
		return nil, services.Wrap(services.ErrConfiguration, "component", "new", "name is required", nil)
	}
	behavior, err := NewBehavior(cfg.Type, cfg.Properties)
	if err != nil {
		return nil, err
	}
	probe := opts.PortProbe
	if probe == nil {
		probe = ports.ListenProbe("")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Component{
		cfg:         cfg,
		loop:        loop,
		logger:      logging.NewComponentLogger(opts.Logger, "component").With(logging.String(logging.FieldAvatarID, cfg.Name)),
		behavior:    behavior,
		machine:     mood.NewMachine(len(cfg.Eaters), len(cfg.Feeders)),
		probe:       probe,
		heartbeat:   seconds(cfg.HeartbeatInterval, defaultHeartbeat),
		reconnect:   seconds(cfg.ReconnectInterval, defaultReconnect),
		outbox:      make(chan report, outboxSize),
		feedPorts:   maps.Clone(opts.FeedPorts),
		listenPorts: make(map[string]int),
		nextFree:    freePortBase,
		feeders:     make(map[string]*feeder),
		eaters:      make(map[string]*eater),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
		senderDone:  make(chan struct{}),
	}
	c.machine.OnChange(c.moodChanged)
	return c, nil
}

func seconds(value float64, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return time.Duration(value * float64(time.Second))
}

// Name returns the component name.
func (c *Component) Name() string { return c.cfg.Name }

// Done is closed once the component stopped.
func (c *Component) Done() <-chan struct{} { return c.stopped }

// Attach starts reporting to r: the component wakes and heartbeats begin.
// Loop only.
func (c *Component) Attach(r Reporter) {
	c.reporter = r
	go c.send()
	c.machine.SetMood(mood.Waking)
	c.beat = c.loop.CallLater(0, c.sendHeartbeat)
}

// send delivers reports in order.
func (c *Component) send() {
	defer close(c.senderDone)
	for rep := range c.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
		if err := c.reporter.CallRemote(ctx, rep.method, rep.params, nil); err != nil {
			c.logger.Debug("report to manager failed", logging.String(logging.FieldMethod, rep.method), logging.Error(err))
		}
		cancel()
	}
}

// report queues a call to the manager. Loop only.
func (c *Component) report(method string, params any) {
	if c.reporter == nil {
		return
	}
	select {
	case <-c.stopped:
		return
	default:
	}
	select {
	case c.outbox <- report{method: method, params: params}:
	default:
		logging.WarnWithContext(c.logger, "manager reports backed up", "component_report_dropped",
			logging.String(logging.FieldMethod, method),
			logging.String(logging.FieldImpact, "one report to the manager was dropped"),
			logging.String(logging.FieldErrorHint, "check the manager is responsive"),
		)
	}
}

func (c *Component) moodChanged(old, current mood.Mood) {
	c.logger.Info("mood changed",
		logging.String("old", old.String()),
		logging.String(logging.FieldMood, current.String()),
	)
	if c.beat != nil {
		c.beat.Reset(0)
	}
}

func (c *Component) sendHeartbeat() {
	select {
	case <-c.stopped:
		return
	default:
	}
	c.report(protocol.ManagerHeartbeat, protocol.MoodParams{Mood: c.machine.Mood(), Message: c.message})
	c.beat.Reset(c.heartbeat)
}

// reportError makes the component sad and tells the manager. Loop only.
func (c *Component) reportError(element, message string) {
	logging.WarnWithContext(c.logger, "component error", "component_error",
		logging.String("element", element),
		logging.String("message", message),
		logging.String(logging.FieldImpact, "component is sad"),
		logging.String(logging.FieldErrorHint, "fix the cause, then clear the mood with conduit mood"),
	)
	c.message = message
	c.machine.SetMood(mood.Sad)
	c.report(protocol.ManagerError, protocol.ErrorParams{Element: element, Message: message})
}

// Handlers serves the manager's calls on the component.
func (c *Component) Handlers() ipc.Handlers {
	return ipc.Handlers{
		protocol.ComponentRegister:     ipc.Bind(c.register),
		protocol.ComponentGetFreePorts: ipc.Bind(c.getFreePorts),
		protocol.ComponentLink:         ipc.Bind(c.handleLink),
		protocol.ComponentStop:         ipc.Bind(c.handleStop),
		protocol.ComponentPlay:         ipc.Bind(c.handlePlay),
		protocol.ComponentPause:        ipc.Bind(c.handlePause),
		protocol.ComponentGetState:     ipc.Bind(c.getState),
		protocol.ComponentCallMethod:   ipc.Bind(c.callMethod),
		protocol.ComponentSetMood:      ipc.Bind(c.setMood),
	}
}

func (c *Component) register(context.Context, struct{}) (protocol.RegisterResult, error) {
	return protocol.RegisterResult{
		Eaters:  slices.Clone(c.cfg.Eaters),
		Feeders: slices.Clone(c.cfg.Feeders),
		Host:    c.cfg.Properties["host"],
		PID:     os.Getpid(),
	}, nil
}

// getFreePorts fills in feeder ports the manager left open, preferring the
// ports the worker reserved.
func (c *Component) getFreePorts(ctx context.Context, tuples []protocol.FeedTuple) ([]protocol.FeedTuple, error) {
	var portErr error
	err := c.loop.Call(ctx, func() {
		for i := range tuples {
			name := tuples[i].Feed
			if tuples[i].Port == 0 {
				port, ok := c.feedPorts[name]
				if !ok || port == 0 {
					free, err := ports.FirstFree(c.nextFree, c.probe)
					if err != nil {
						portErr = fmt.Errorf("feeder %s: %w", name, err)
						return
					}
					port = free
					c.nextFree = free + 1
				}
				tuples[i].Port = port
			}
			c.listenPorts[name] = tuples[i].Port
		}
	})
	if err != nil {
		return nil, err
	}
	return tuples, portErr
}

func (c *Component) handleLink(ctx context.Context, params protocol.LinkParams) (bool, error) {
	var linkErr error
	if err := c.loop.Call(ctx, func() { linkErr = c.link(params) }); err != nil {
		return false, err
	}
	return linkErr == nil, linkErr
}

// link sets up feeders and eaters and plays the pipeline. Loop only.
func (c *Component) link(params protocol.LinkParams) error {
	if c.linked {
		c.repointEaters(params.Eaters)
		return nil
	}
	c.machine.Link()

	for _, tuple := range params.Feeders {
		port := tuple.Port
		if port == 0 {
			port = c.listenPorts[tuple.Feed]
		}
		f, err := listenFeeder(tuple.Feed, "", port, c.logger)
		if err != nil {
			c.closeFeeders()
			c.reportError("feeder:"+tuple.Feed, fmt.Sprintf("cannot listen on port %d: %v", port, err))
			return fmt.Errorf("feeder %s: %w", tuple.Feed, err)
		}
		c.feeders[tuple.Feed] = f
		c.feederOrder = append(c.feederOrder, tuple.Feed)
		c.listenPorts[tuple.Feed] = f.port()
		c.logger.Info("feeder listening", logging.String(logging.FieldFeed, tuple.Feed), logging.Int("port", f.port()))
	}
	outputs := make([]*feeder, 0, len(c.feederOrder))
	for _, name := range c.feederOrder {
		outputs = append(outputs, c.feeders[name])
	}
	c.outputs.Store(&outputs)

	for _, tuple := range params.Eaters {
		e := c.startEater(tuple)
		c.logger.Info("eater started", logging.String(logging.FieldFeed, tuple.Feed), logging.String("upstream", e.addr))
	}
	c.linked = true
	c.play()
	return nil
}

func (c *Component) startEater(tuple protocol.FeedTuple) *eater {
	feedName := tuple.Feed
	e := newEater(feedName, upstreamAddr(tuple), c.reconnect, c.logger,
		func(data []byte) { c.behavior.Eat(feedName, data, c.emit) },
		func(old, current mood.PipelineState) {
			c.loop.Post(func() { c.elementStateChanged(mood.Eater, feedName, old, current) })
		},
	)
	c.eaters[feedName] = e
	e.start(c.ctx)
	return e
}

// repointEaters restarts the eaters whose upstream moved, as when a feeder
// comes back on another port. Loop only.
func (c *Component) repointEaters(tuples []protocol.FeedTuple) {
	for _, tuple := range tuples {
		old, ok := c.eaters[tuple.Feed]
		if !ok || old.addr == upstreamAddr(tuple) {
			continue
		}
		wasPlaying := old.playing.Load()
		old.stop()
		if wasPlaying {
			c.elementStateChanged(mood.Eater, tuple.Feed, mood.StatePlaying, mood.StatePaused)
		}
		e := c.startEater(tuple)
		c.logger.Info("eater upstream moved",
			logging.String(logging.FieldFeed, tuple.Feed),
			logging.String("from", old.addr),
			logging.String("upstream", e.addr),
		)
	}
}

func upstreamAddr(tuple protocol.FeedTuple) string {
	host := tuple.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(tuple.Port))
}

// elementStateChanged feeds an element transition to the mood machine and
// the manager. Loop only.
func (c *Component) elementStateChanged(kind mood.ElementKind, name string, old, current mood.PipelineState) {
	if !c.linked {
		return
	}
	tr := c.machine.ElementStateChanged(kind, old, current)
	if kind == mood.Eater && tr == mood.Deactivated {
		c.message = fmt.Sprintf("eater %s is hungry, reconnecting", name)
	}
	if kind == mood.Eater && tr == mood.Activated {
		c.message = ""
	}
	c.report(protocol.ManagerFeedStateChanged, protocol.FeedStateParams{
		Feed: name,
		Kind: kind.String(),
		Old:  old,
		New:  current,
	})
}

// play moves every feeder to PLAYING and starts producing. Loop only.
func (c *Component) play() {
	for _, name := range c.feederOrder {
		if old := c.feeders[name].setState(mood.StatePlaying); old != mood.StatePlaying {
			c.elementStateChanged(mood.Feeder, name, old, mood.StatePlaying)
		}
	}
	if c.stopRun == nil {
		ctx, cancel := context.WithCancel(c.ctx)
		c.stopRun = cancel
		go c.behavior.Run(ctx, c.emit)
	}
}

// pause stops feeding. Eaters stay connected. Loop only.
func (c *Component) pause() {
	if c.stopRun != nil {
		c.stopRun()
		c.stopRun = nil
	}
	for _, name := range c.feederOrder {
		if old := c.feeders[name].setState(mood.StatePaused); old == mood.StatePlaying {
			c.elementStateChanged(mood.Feeder, name, old, mood.StatePaused)
		}
	}
}

func (c *Component) emit(data []byte) {
	outputs := c.outputs.Load()
	if outputs == nil {
		return
	}
	for _, f := range *outputs {
		f.write(data)
	}
}

func (c *Component) handlePlay(ctx context.Context, _ struct{}) (bool, error) {
	var playErr error
	err := c.loop.Call(ctx, func() {
		if !c.linked {
			playErr = ErrNotLinked
			return
		}
		c.play()
	})
	if err != nil {
		return false, err
	}
	return playErr == nil, playErr
}

func (c *Component) handlePause(ctx context.Context, _ struct{}) (bool, error) {
	var pauseErr error
	err := c.loop.Call(ctx, func() {
		if !c.linked {
			pauseErr = ErrNotLinked
			return
		}
		c.pause()
	})
	if err != nil {
		return false, err
	}
	return pauseErr == nil, pauseErr
}

func (c *Component) handleStop(ctx context.Context, _ struct{}) (bool, error) {
	if err := c.loop.Call(ctx, c.Stop); err != nil {
		return false, err
	}
	return true, nil
}

// Stop tears the pipeline down and puts the component to sleep. Loop only.
func (c *Component) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("stopping")
		c.cancel()
		for _, e := range c.eaters {
			e.stop()
		}
		c.closeFeeders()
		c.linked = false
		c.machine.SetMood(mood.Sleeping)
		if c.beat != nil {
			c.beat.Cancel()
		}
		if c.reporter != nil {
			c.report(protocol.ManagerHeartbeat, protocol.MoodParams{Mood: mood.Sleeping})
			close(c.outbox)
		}
		close(c.stopped)
	})
}

// Flush waits until queued manager reports were delivered.
func (c *Component) Flush(ctx context.Context) {
	if c.reporter == nil {
		return
	}
	select {
	case <-c.senderDone:
	case <-ctx.Done():
	}
}

func (c *Component) closeFeeders() {
	c.outputs.Store(nil)
	for _, name := range c.feederOrder {
		c.feeders[name].close()
	}
}

func (c *Component) getState(ctx context.Context, _ struct{}) (protocol.ComponentState, error) {
	var st protocol.ComponentState
	err := c.loop.Call(ctx, func() { st = c.State() })
	return st, err
}

// State returns the component's view of itself. Loop only.
func (c *Component) State() protocol.ComponentState {
	eatersWaiting, feedersWaiting := c.machine.Waiting()
	eaters := make(map[string]string, len(c.eaters))
	for name, e := range c.eaters {
		eaters[name] = e.addr
	}
	return protocol.ComponentState{
		Name:           c.cfg.Name,
		Type:           c.cfg.Type,
		Mood:           c.machine.Mood(),
		EatersWaiting:  eatersWaiting,
		FeedersWaiting: feedersWaiting,
		Ports:          maps.Clone(c.listenPorts),
		Eaters:         eaters,
		PID:            os.Getpid(),
	}
}

// Stats are the byte counters exposed through callMethod("stats").
type Stats struct {
	Mood     mood.Mood `json:"mood"`
	BytesIn  int64     `json:"bytes_in"`
	BytesOut int64     `json:"bytes_out"`
	Eating   int       `json:"eating"`
	Clients  int       `json:"clients"`
}

// Stats returns the current counters. Loop only.
func (c *Component) Stats() Stats {
	st := Stats{Mood: c.machine.Mood()}
	for _, e := range c.eaters {
		st.BytesIn += e.bytesIn.Load()
		if e.playing.Load() {
			st.Eating++
		}
	}
	for _, f := range c.feeders {
		st.BytesOut += f.bytesOut.Load()
		st.Clients += f.clientCount()
	}
	return st
}

func (c *Component) callMethod(ctx context.Context, params protocol.CallMethodParams) (any, error) {
	switch params.Method {
	case "stats":
		var st Stats
		err := c.loop.Call(ctx, func() { st = c.Stats() })
		return st, err
	case "state":
		return c.getState(ctx, struct{}{})
	default:
		return nil, services.Wrap(services.ErrNotFound, "component", "callMethod", fmt.Sprintf("no method %q", params.Method), nil)
	}
}

// setMood is the manager's explicit corrective action. It is the only way
// out of sad.
func (c *Component) setMood(ctx context.Context, params protocol.MoodParams) (bool, error) {
	if !params.Mood.Valid() {
		return false, fmt.Errorf("%w: invalid mood %d", ipc.ErrInvalidParams, int(params.Mood))
	}
	err := c.loop.Call(ctx, func() {
		if params.Mood != mood.Sad {
			c.message = ""
		}
		c.machine.SetMood(params.Mood)
	})
	return err == nil, err
}
