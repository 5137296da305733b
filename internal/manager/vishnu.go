package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"conduit/internal/avatar"
	"conduit/internal/bouncer"
	"conduit/internal/config"
	"conduit/internal/dag"
	"conduit/internal/feed"
	"conduit/internal/ipc"
	"conduit/internal/logging"
	"conduit/internal/notifications"
	"conduit/internal/ports"
	"conduit/internal/protocol"
	"conduit/internal/reactor"
	"conduit/internal/state"
	"conduit/internal/store"
)

// Options configures a manager beyond its config file.
type Options struct {
	Logger *slog.Logger
	// Store receives mood history and keycard audit records. Nil disables
	// history.
	Store *store.Store
	// Registry receives the manager metrics. Nil creates a private registry.
	Registry *prometheus.Registry
	// PortProbe checks whether a feed port can be bound. Nil probes loopback.
	PortProbe ports.Probe
	Now       func() time.Time
}

type keycardBouncer interface {
	bouncer.Bouncer
	SetExpirer(bouncer.Expirer)
	Stop()
}

// Vishnu is the manager: it owns every registry, the portal peers log in
// through, and the HTTP surface. Registries are touched only on its loop.
type Vishnu struct {
	cfg    *config.Config
	logger *slog.Logger
	loop   *reactor.Loop
	now    func() time.Time

	bouncer    keycardBouncer
	dispatcher *avatar.Dispatcher
	workers    *avatar.Heaven[*WorkerAvatar]
	components *avatar.Heaven[*ComponentAvatar]
	admins     *avatar.Heaven[*AdminAvatar]
	feeds      *feed.Tracker
	graph      *dag.Graph[string]
	cursor     *ports.Cursor
	entries    map[string]*componentEntry
	order      []string
	watchdog   *reactor.Poller
	listener   state.Listener

	metrics *metrics
	hub     *Hub
	history *historyWriter
	alerts  *notifications.Service

	portal     *ipc.Server
	httpServer *http.Server
	httpLn     net.Listener

	cancel   context.CancelFunc
	loopDone chan struct{}
	stopOnce sync.Once
}

// New builds a manager for cfg. Nothing listens until Start.
func New(cfg *config.Config, opts Options) (*Vishnu, error) {
	if cfg == nil {
		return nil, errors.New("manager requires config")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	loop := reactor.New()
	v := &Vishnu{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(opts.Logger, "manager"),
		loop:     loop,
		now:      now,
		feeds:    feed.NewTracker(),
		graph:    dag.New[string](),
		cursor:   ports.NewCursor(cfg.Manager.PortBase, opts.PortProbe),
		entries:  make(map[string]*componentEntry),
		metrics:  newMetrics(opts.Registry),
		hub:      NewHub(opts.Logger),
		loopDone: make(chan struct{}),
	}
	v.history = newHistoryWriter(opts.Store, opts.Logger)
	v.alerts = notifications.NewService(cfg.Notifications, opts.Logger)
	v.listener = state.ListenerFunc(v.componentStateChanged)

	b, err := v.newBouncer(opts.Logger)
	if err != nil {
		return nil, err
	}
	v.bouncer = b
	v.dispatcher = avatar.NewDispatcher(loop, b, float64(cfg.Bouncer.KeycardTTL), opts.Logger)
	b.SetExpirer(v.dispatcher)

	v.workers = avatar.NewHeaven(loop, ipc.InterfaceWorker, opts.Logger, v.newWorkerAvatar)
	v.components = avatar.NewHeaven(loop, ipc.InterfaceComponent, opts.Logger, v.newComponentAvatar)
	v.admins = avatar.NewHeaven(loop, ipc.InterfaceAdmin, opts.Logger, v.newAdminAvatar)
	v.dispatcher.Register(ipc.InterfaceWorker, v.workers)
	v.dispatcher.Register(ipc.InterfaceComponent, v.components)
	v.dispatcher.Register(ipc.InterfaceAdmin, v.admins)

	for _, comp := range cfg.Components {
		if err := v.addConfigured(comp); err != nil {
			return nil, err
		}
	}
	v.watchdog = reactor.NewPoller(loop, time.Duration(cfg.Component.HeartbeatInterval)*time.Second, v.checkHeartbeats)
	return v, nil
}

func (v *Vishnu) newBouncer(logger *slog.Logger) (keycardBouncer, error) {
	opts := bouncer.Options{
		Loop:           v.loop,
		Logger:         logger,
		ExpireInterval: time.Duration(v.cfg.Bouncer.ExpireInterval) * time.Second,
		Audit:          v.auditKeycard,
		Now:            v.now,
	}
	var b keycardBouncer
	switch v.cfg.Bouncer.Type {
	case config.BouncerChallenge:
		checker := bouncer.NewPasswordChecker()
		for _, user := range v.cfg.Bouncer.Users {
			checker.AddUser(user.Username, user.Password)
		}
		b = bouncer.NewChallenge(opts, checker)
	case config.BouncerTrivial, "":
		b = bouncer.NewTrivial(opts)
	default:
		return nil, fmt.Errorf("unknown bouncer type %q", v.cfg.Bouncer.Type)
	}
	b.SetEnabled(v.cfg.Bouncer.Enabled)
	return b, nil
}

// addConfigured creates the entry and graph node of a configured component.
// Edges to components not yet known are added when those arrive.
func (v *Vishnu) addConfigured(comp config.Component) error {
	entry := v.ensureEntry(comp, true)
	for _, eater := range comp.Eaters {
		if err := v.addFeedEdge(feed.Component(eater), entry.name); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vishnu) ensureEntry(comp config.Component, configured bool) *componentEntry {
	if entry, ok := v.entries[comp.Name]; ok {
		return entry
	}
	entry := newComponentEntry(comp, configured)
	entry.state.Register(v.listener)
	v.entries[comp.Name] = entry
	v.order = append(v.order, comp.Name)
	if !v.graph.HasNode(comp.Name) {
		_ = v.graph.AddNode(comp.Name, comp.Type)
	}
	v.metrics.setMood(comp.Name, entry.mood())
	return entry
}

func (v *Vishnu) addFeedEdge(parent, child string) error {
	if parent == child {
		return nil
	}
	if !v.graph.HasNode(parent) {
		if err := v.graph.AddNode(parent, ""); err != nil {
			return err
		}
	}
	if v.graph.HasEdge(parent, child) {
		return nil
	}
	return v.graph.AddEdge(parent, child)
}

// Start binds the portal and the HTTP surface and starts the loop.
func (v *Vishnu) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	go func() {
		defer close(v.loopDone)
		if err := v.loop.Run(loopCtx); err != nil {
			v.logger.Error("manager loop failed", logging.Error(err))
		}
	}()

	portal, err := ipc.NewServer(ctx, ipc.ServerOptions{
		Network:    "tcp",
		Address:    v.cfg.Manager.Listen,
		Realm:      v.dispatcher,
		Logger:     v.logger,
		LoginRate:  v.cfg.Manager.LoginRate,
		LoginBurst: v.cfg.Manager.LoginBurst,
		KeepAlive:  float64(v.cfg.Bouncer.KeycardTTL),
	})
	if err != nil {
		cancel()
		<-v.loopDone
		return fmt.Errorf("manager portal: %w", err)
	}
	v.portal = portal
	portal.Serve()

	if err := v.startHTTP(); err != nil {
		portal.Close()
		cancel()
		<-v.loopDone
		return err
	}
	v.history.start()
	v.alerts.Start()
	v.loop.Post(v.watchdog.Start)

	v.logger.Info("manager started",
		logging.String("listen", portal.Addr()),
		logging.String("http", v.HTTPAddr()),
		logging.Int("components", len(v.cfg.Components)),
		logging.String("bouncer", v.cfg.Bouncer.Type),
	)
	return nil
}

// Addr returns the portal address.
func (v *Vishnu) Addr() string {
	if v.portal == nil {
		return ""
	}
	return v.portal.Addr()
}

// HTTPAddr returns the HTTP address, or "" when HTTP is disabled.
func (v *Vishnu) HTTPAddr() string {
	if v.httpLn == nil {
		return ""
	}
	return v.httpLn.Addr().String()
}

// Loop returns the manager loop.
func (v *Vishnu) Loop() *reactor.Loop {
	return v.loop
}

// Shutdown stops components in reverse start order, then closes the portal,
// the HTTP surface and the loop.
func (v *Vishnu) Shutdown(ctx context.Context) error {
	var err error
	v.stopOnce.Do(func() {
		if v.portal == nil {
			return
		}
		v.stopAll(ctx)
		v.portal.Close()
		v.stopHTTP()
		v.hub.Close()
		_ = v.loop.Call(ctx, func() {
			v.watchdog.Stop()
			v.bouncer.Stop()
		})
		v.cancel()
		<-v.loopDone
		err = errors.Join(v.history.close(), v.alerts.Close(ctx))
		v.logger.Info("manager stopped")
	})
	return err
}

// stopAll asks every connected component to stop, last started first.
func (v *Vishnu) stopAll(ctx context.Context) {
	var targets []*ComponentAvatar
	err := v.loop.Call(ctx, func() {
		order, sortErr := v.startOrder()
		if sortErr != nil {
			order = slices.Clone(v.order)
		}
		slices.Reverse(order)
		for _, name := range order {
			if entry, ok := v.entries[name]; ok && entry.avatar != nil {
				entry.stopping = true
				targets = append(targets, entry.avatar)
			}
		}
	})
	if err != nil {
		return
	}
	for _, a := range targets {
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := a.CallRemote(callCtx, protocol.ComponentStop, nil, nil); err != nil {
			v.logger.Debug("stop during shutdown failed", logging.String(logging.FieldAvatarID, a.ID()), logging.Error(err))
		}
		cancel()
	}
}

// startOrder returns configured and registered components parents first,
// with configuration order breaking ties.
func (v *Vishnu) startOrder() ([]string, error) {
	sorted, err := v.graph.SortPreferred(v.cfg.ComponentOrder())
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(sorted, func(name string) bool {
		_, ok := v.entries[name]
		return !ok
	}), nil
}

func (v *Vishnu) auditKeycard(action string, kc bouncer.Keycard) {
	v.history.keycard(store.KeycardRecordFrom(action, kc))
}

// Components returns every known component in the order the manager first
// saw them.
func (v *Vishnu) Components(ctx context.Context) ([]protocol.ComponentInfo, error) {
	var out []protocol.ComponentInfo
	err := v.loop.Call(ctx, func() {
		out = make([]protocol.ComponentInfo, 0, len(v.order))
		for _, name := range v.order {
			out = append(out, v.entries[name].info())
		}
	})
	return out, err
}

// Component returns one component.
func (v *Vishnu) Component(ctx context.Context, name string) (protocol.ComponentInfo, error) {
	var (
		info      protocol.ComponentInfo
		lookupErr error
	)
	err := v.loop.Call(ctx, func() {
		var entry *componentEntry
		if entry, lookupErr = v.lookup(name); lookupErr == nil {
			info = entry.info()
		}
	})
	if err != nil {
		return info, err
	}
	return info, lookupErr
}
