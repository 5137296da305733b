package manager_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"conduit/internal/bouncer"
	"conduit/internal/config"
	"conduit/internal/ipc"
	"conduit/internal/manager"
	"conduit/internal/mood"
	"conduit/internal/protocol"
	"conduit/internal/services"
	"conduit/internal/store"
	"conduit/internal/testsupport"
)

const waitTimeout = 5 * time.Second

func startManager(t *testing.T, cfg *config.Config, opts manager.Options) *manager.Vishnu {
	t.Helper()
	if opts.PortProbe == nil {
		opts.PortProbe = func(int) bool { return true }
	}
	v, err := manager.New(cfg, opts)
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	if err := v.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := v.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return v
}

type fakeComponent struct {
	name    string
	eaters  []string
	feeders []string
	medium  *ipc.Medium
	linked  chan protocol.LinkParams

	mu       sync.Mutex
	moods    []mood.Mood
	stopOnce sync.Once
}

func (c *fakeComponent) handlers() ipc.Handlers {
	return ipc.Handlers{
		protocol.ComponentRegister: ipc.Bind(func(context.Context, struct{}) (protocol.RegisterResult, error) {
			return protocol.RegisterResult{Eaters: c.eaters, Feeders: c.feeders, PID: 4242}, nil
		}),
		protocol.ComponentGetFreePorts: ipc.Bind(func(_ context.Context, tuples []protocol.FeedTuple) ([]protocol.FeedTuple, error) {
			for i := range tuples {
				if tuples[i].Port == 0 {
					tuples[i].Port = 7000 + i
				}
			}
			return tuples, nil
		}),
		protocol.ComponentLink: ipc.Bind(func(_ context.Context, params protocol.LinkParams) (bool, error) {
			c.linked <- params
			return true, nil
		}),
		protocol.ComponentStop: ipc.Bind(func(context.Context, struct{}) (bool, error) {
			c.stopOnce.Do(func() {
				go func() {
					time.Sleep(50 * time.Millisecond)
					_ = c.medium.Close()
				}()
			})
			return true, nil
		}),
		protocol.ComponentSetMood: ipc.Bind(func(_ context.Context, params protocol.MoodParams) (bool, error) {
			c.mu.Lock()
			c.moods = append(c.moods, params.Mood)
			c.mu.Unlock()
			return true, nil
		}),
		protocol.ComponentCallMethod: ipc.Bind(func(_ context.Context, params protocol.CallMethodParams) (map[string]string, error) {
			return map[string]string{"method": params.Method}, nil
		}),
	}
}

func (c *fakeComponent) setMoods() []mood.Mood {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]mood.Mood(nil), c.moods...)
}

func connectComponent(t *testing.T, v *manager.Vishnu, name string, eaters, feeders []string) *fakeComponent {
	t.Helper()
	c := &fakeComponent{
		name:    name,
		eaters:  eaters,
		feeders: feeders,
		linked:  make(chan protocol.LinkParams, 8),
	}
	medium, err := ipc.NewMedium(ipc.MediumOptions{
		Network:   "tcp",
		Address:   v.Addr(),
		Interface: ipc.InterfaceComponent,
		AvatarID:  name,
		Handlers:  c.handlers(),
	})
	if err != nil {
		t.Fatalf("NewMedium: %v", err)
	}
	c.medium = medium
	t.Cleanup(func() { _ = medium.Close() })
	if err := medium.Login(context.Background()); err != nil {
		t.Fatalf("component %s login: %v", name, err)
	}
	return c
}

func (c *fakeComponent) call(t *testing.T, method string, params any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := c.medium.CallRemote(ctx, method, params, nil); err != nil {
		t.Fatalf("%s %s: %v", c.name, method, err)
	}
}

func (c *fakeComponent) feederPlaying(t *testing.T, feedName string) {
	t.Helper()
	c.call(t, protocol.ManagerFeedStateChanged, protocol.FeedStateParams{
		Feed: feedName,
		Kind: mood.Feeder.String(),
		Old:  mood.StatePaused,
		New:  mood.StatePlaying,
	})
}

func (c *fakeComponent) waitLinked(t *testing.T) protocol.LinkParams {
	t.Helper()
	select {
	case params := <-c.linked:
		return params
	case <-time.After(waitTimeout):
		t.Fatalf("%s was never linked", c.name)
		return protocol.LinkParams{}
	}
}

func (c *fakeComponent) expectNotLinked(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case params := <-c.linked:
		t.Fatalf("%s linked unexpectedly: %+v", c.name, params)
	case <-time.After(within):
	}
}

type fakeAdmin struct {
	medium *ipc.Medium
	events chan protocol.StateEvent
}

func connectAdmin(t *testing.T, v *manager.Vishnu) *fakeAdmin {
	t.Helper()
	a := &fakeAdmin{events: make(chan protocol.StateEvent, 64)}
	handlers := ipc.Handlers{
		protocol.AdminStateChanged: ipc.Bind(func(_ context.Context, ev protocol.StateEvent) (bool, error) {
			select {
			case a.events <- ev:
			default:
			}
			return true, nil
		}),
		protocol.AdminComponentAdded: ipc.Bind(func(context.Context, protocol.ComponentInfo) (bool, error) {
			return true, nil
		}),
		protocol.AdminComponentRemoved: ipc.Bind(func(context.Context, protocol.ComponentInfo) (bool, error) {
			return true, nil
		}),
	}
	medium, err := ipc.NewMedium(ipc.MediumOptions{
		Network:   "tcp",
		Address:   v.Addr(),
		Interface: ipc.InterfaceAdmin,
		AvatarID:  "admin-test",
		Handlers:  handlers,
	})
	if err != nil {
		t.Fatalf("NewMedium: %v", err)
	}
	t.Cleanup(func() { _ = medium.Close() })
	if err := medium.Login(context.Background()); err != nil {
		t.Fatalf("admin login: %v", err)
	}
	a.medium = medium
	return a
}

func (a *fakeAdmin) call(method string, params, reply any) error {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	return a.medium.CallRemote(ctx, method, params, reply)
}

func waitComponent(t *testing.T, v *manager.Vishnu, name, what string, cond func(protocol.ComponentInfo) bool) protocol.ComponentInfo {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		info, err := v.Component(context.Background(), name)
		if err == nil && cond(info) {
			return info
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: last %+v (err %v)", what, info, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProducerIsLinkedWithCursorPort(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithComponent("src", config.TypeProducer))
	v := startManager(t, cfg, manager.Options{})

	src := connectComponent(t, v, "src", nil, []string{"default"})
	params := src.waitLinked(t)
	if len(params.Eaters) != 0 {
		t.Fatalf("producer eaters = %+v, want none", params.Eaters)
	}
	if len(params.Feeders) != 1 || params.Feeders[0].Feed != "default" || params.Feeders[0].Port != cfg.Manager.PortBase {
		t.Fatalf("feeders = %+v, want default on %d", params.Feeders, cfg.Manager.PortBase)
	}

	info := waitComponent(t, v, "src", "src started", func(info protocol.ComponentInfo) bool { return info.Started })
	if info.ListenPorts["default"] != cfg.Manager.PortBase {
		t.Fatalf("listen ports = %v", info.ListenPorts)
	}
	if !info.Connected || info.PID != 4242 {
		t.Fatalf("info = %+v", info)
	}
}

func TestConsumerStartsOnceWhenEatenFeedIsReady(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithComponent("src", config.TypeProducer),
		testsupport.WithComponent("sink", config.TypeConsumer, "src"),
	)
	v := startManager(t, cfg, manager.Options{})

	src := connectComponent(t, v, "src", nil, []string{"default"})
	src.waitLinked(t)
	sink := connectComponent(t, v, "sink", []string{"src:default"}, nil)
	waitComponent(t, v, "sink", "sink registered", func(info protocol.ComponentInfo) bool { return len(info.Eaters) == 1 })
	sink.expectNotLinked(t, 100*time.Millisecond)

	src.feederPlaying(t, "default")
	src.feederPlaying(t, "default")

	params := sink.waitLinked(t)
	want := protocol.FeedTuple{Feed: "src:default", Host: "127.0.0.1", Port: cfg.Manager.PortBase}
	if len(params.Eaters) != 1 || params.Eaters[0] != want {
		t.Fatalf("sink eaters = %+v, want %+v", params.Eaters, want)
	}
	sink.expectNotLinked(t, 200*time.Millisecond)

	admin := connectAdmin(t, v)
	var feeds []protocol.FeedInfo
	if err := admin.call(protocol.AdminGetFeeds, nil, &feeds); err != nil {
		t.Fatalf("getFeeds: %v", err)
	}
	if len(feeds) != 1 || !feeds[0].Ready || feeds[0].Component != "src" || feeds[0].Pending != 0 {
		t.Fatalf("feeds = %+v", feeds)
	}
}

func TestErrorIsStickyUntilSetMood(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithComponent("src", config.TypeProducer))
	v := startManager(t, cfg, manager.Options{})
	src := connectComponent(t, v, "src", nil, []string{"default"})
	src.waitLinked(t)
	admin := connectAdmin(t, v)

	src.call(t, protocol.ManagerError, protocol.ErrorParams{Element: "encoder", Message: "boom"})
	info := waitComponent(t, v, "src", "src sad", func(info protocol.ComponentInfo) bool { return info.Mood == mood.Sad })
	if info.Message != "encoder: boom" {
		t.Fatalf("message = %q", info.Message)
	}

	src.call(t, protocol.ManagerHeartbeat, protocol.MoodParams{Mood: mood.Happy})
	if info, _ := v.Component(context.Background(), "src"); info.Mood != mood.Sad {
		t.Fatalf("heartbeat cleared sad: %s", info.Mood)
	}

	if err := admin.call(protocol.AdminSetMood, protocol.SetMoodParams{Name: "src", Mood: mood.Happy}, nil); err != nil {
		t.Fatalf("setMood: %v", err)
	}
	info, _ = v.Component(context.Background(), "src")
	if info.Mood != mood.Happy || info.Message != "" {
		t.Fatalf("after setMood: %+v", info)
	}
	if got := src.setMoods(); len(got) != 1 || got[0] != mood.Happy {
		t.Fatalf("component setMood calls = %v", got)
	}

	deadline := time.After(waitTimeout)
	for {
		select {
		case ev := <-admin.events:
			if ev.Component == "src" && ev.Key == manager.KeyMood && ev.Value == "happy" {
				return
			}
		case <-deadline:
			t.Fatal("admin never saw the mood change")
		}
	}
}

func TestStopSleepsAndDisconnectIsLost(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithComponent("a", config.TypeProducer),
		testsupport.WithComponent("b", config.TypeProducer),
	)
	v := startManager(t, cfg, manager.Options{})
	a := connectComponent(t, v, "a", nil, []string{"default"})
	b := connectComponent(t, v, "b", nil, []string{"default"})
	a.waitLinked(t)
	b.waitLinked(t)
	admin := connectAdmin(t, v)

	err := admin.call(protocol.AdminStartComponent, protocol.NameParams{Name: "a"}, nil)
	if !errors.Is(err, manager.ErrInvalidState) {
		t.Fatalf("start of running component: %v, want ErrInvalidState", err)
	}
	err = admin.call(protocol.AdminStopComponent, protocol.NameParams{Name: "nope"}, nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("stop of unknown component: %v, want ErrNotFound", err)
	}

	if err := admin.call(protocol.AdminStopComponent, protocol.NameParams{Name: "a"}, nil); err != nil {
		t.Fatalf("stopComponent: %v", err)
	}
	waitComponent(t, v, "a", "a asleep", func(info protocol.ComponentInfo) bool {
		return !info.Connected && info.Mood == mood.Sleeping
	})

	_ = b.medium.Close()
	info := waitComponent(t, v, "b", "b lost", func(info protocol.ComponentInfo) bool { return !info.Connected })
	if info.Mood != mood.Lost || info.Started {
		t.Fatalf("b after disconnect = %+v", info)
	}
}

type fakeWorker struct {
	starts chan protocol.StartParams
	fail   error
	// hold, when set, keeps start calls unanswered until it is closed.
	hold   chan struct{}
	medium *ipc.Medium
}

func connectWorker(t *testing.T, v *manager.Vishnu, name string, fail error) *fakeWorker {
	t.Helper()
	return dialWorker(t, v, name, &fakeWorker{fail: fail})
}

func dialWorker(t *testing.T, v *manager.Vishnu, name string, w *fakeWorker) *fakeWorker {
	t.Helper()
	w.starts = make(chan protocol.StartParams, 8)
	handlers := ipc.Handlers{
		protocol.WorkerStart: ipc.Bind(func(_ context.Context, params protocol.StartParams) (protocol.StartResult, error) {
			w.starts <- params
			if w.hold != nil {
				select {
				case <-w.hold:
				case <-time.After(waitTimeout):
				}
			}
			if w.fail != nil {
				return protocol.StartResult{}, w.fail
			}
			return protocol.StartResult{PID: 99}, nil
		}),
	}
	medium, err := ipc.NewMedium(ipc.MediumOptions{
		Network:   "tcp",
		Address:   v.Addr(),
		Interface: ipc.InterfaceWorker,
		AvatarID:  name,
		Handlers:  handlers,
	})
	if err != nil {
		t.Fatalf("NewMedium: %v", err)
	}
	w.medium = medium
	t.Cleanup(func() { _ = medium.Close() })
	if err := medium.Login(context.Background()); err != nil {
		t.Fatalf("worker login: %v", err)
	}
	return w
}

func (w *fakeWorker) waitStart(t *testing.T) protocol.StartParams {
	t.Helper()
	select {
	case params := <-w.starts:
		return params
	case <-time.After(waitTimeout):
		t.Fatal("worker was never asked to start anything")
		return protocol.StartParams{}
	}
}

func TestWorkerLoginStartsItsComponents(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithComponent("src", config.TypeProducer),
		testsupport.WithComponent("sink", config.TypeConsumer, "src"),
		testsupport.WithConfig(func(c *config.Config) { c.Components[1].Worker = "elsewhere" }),
	)
	v := startManager(t, cfg, manager.Options{})
	w := connectWorker(t, v, "w1", nil)

	select {
	case params := <-w.starts:
		if params.AvatarID != "src" || params.Type != config.TypeProducer || params.Config.Name != "src" {
			t.Fatalf("start params = %+v", params)
		}
		if len(params.Config.Feeders) != 1 || params.Config.Feeders[0] != "default" {
			t.Fatalf("start feeders = %v", params.Config.Feeders)
		}
	case <-time.After(waitTimeout):
		t.Fatal("worker never asked to start src")
	}
	select {
	case params := <-w.starts:
		t.Fatalf("unexpected start %+v", params)
	case <-time.After(200 * time.Millisecond):
	}
	info := waitComponent(t, v, "src", "src pid", func(info protocol.ComponentInfo) bool { return info.PID == 99 })
	if info.Worker != "w1" {
		t.Fatalf("worker = %q", info.Worker)
	}
}

func TestWorkerStartFailureMakesComponentSad(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithComponent("src", config.TypeProducer))
	v := startManager(t, cfg, manager.Options{})
	connectWorker(t, v, "w1", errors.New("no such binary"))

	info := waitComponent(t, v, "src", "src sad", func(info protocol.ComponentInfo) bool { return info.Mood == mood.Sad })
	if !strings.Contains(info.Message, "no such binary") {
		t.Fatalf("message = %q", info.Message)
	}
}

func TestSadComponentStaysDownWhenWorkerReturns(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithComponent("src", config.TypeProducer))
	v := startManager(t, cfg, manager.Options{})

	first := connectWorker(t, v, "w1", errors.New("no such binary"))
	first.waitStart(t)
	waitComponent(t, v, "src", "src sad", func(info protocol.ComponentInfo) bool { return info.Mood == mood.Sad })
	_ = first.medium.Close()

	second := connectWorker(t, v, "w2", nil)
	select {
	case params := <-second.starts:
		t.Fatalf("sad component restarted without an admin: %+v", params)
	case <-time.After(300 * time.Millisecond):
	}

	src := connectComponent(t, v, "src", nil, []string{"default"})
	src.waitLinked(t)
	info := waitComponent(t, v, "src", "src connected", func(info protocol.ComponentInfo) bool { return info.Connected })
	if info.Mood != mood.Sad || !strings.Contains(info.Message, "no such binary") {
		t.Fatalf("component login cleared sad: %+v", info)
	}
}

func TestWorkerLostDuringStartIsNotSad(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithComponent("src", config.TypeProducer))
	v := startManager(t, cfg, manager.Options{})

	hold := make(chan struct{})
	w := dialWorker(t, v, "w1", &fakeWorker{hold: hold})
	w.waitStart(t)
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = w.medium.Close()
	}()

	info := waitComponent(t, v, "src", "src lost", func(info protocol.ComponentInfo) bool { return info.Mood == mood.Lost })
	close(hold)
	<-closed
	if info.Mood == mood.Sad {
		t.Fatalf("worker crash made the component sad: %+v", info)
	}

	again := connectWorker(t, v, "w2", nil)
	if params := again.waitStart(t); params.AvatarID != "src" {
		t.Fatalf("restart params = %+v", params)
	}
}

func TestRestartedFeederRelinksEaters(t *testing.T) {
	var busy sync.Map
	probe := func(port int) bool {
		_, taken := busy.Load(port)
		return !taken
	}
	cfg := testsupport.NewConfig(t,
		testsupport.WithComponent("src", config.TypeProducer),
		testsupport.WithComponent("sink", config.TypeConsumer, "src"),
	)
	v := startManager(t, cfg, manager.Options{PortProbe: probe})
	base := cfg.Manager.PortBase

	src := connectComponent(t, v, "src", nil, []string{"default"})
	src.waitLinked(t)
	src.feederPlaying(t, "default")
	sink := connectComponent(t, v, "sink", []string{"src:default"}, nil)
	if params := sink.waitLinked(t); len(params.Eaters) != 1 || params.Eaters[0].Port != base {
		t.Fatalf("sink eaters = %+v, want port %d", params.Eaters, base)
	}
	waitComponent(t, v, "sink", "sink started", func(info protocol.ComponentInfo) bool { return info.Started })

	_ = src.medium.Close()
	waitComponent(t, v, "src", "src gone", func(info protocol.ComponentInfo) bool { return !info.Connected })
	busy.Store(base, true)

	restarted := connectComponent(t, v, "src", nil, []string{"default"})
	params := restarted.waitLinked(t)
	if len(params.Feeders) != 1 || params.Feeders[0].Port != base+1 {
		t.Fatalf("restarted feeders = %+v, want port %d", params.Feeders, base+1)
	}
	relink := sink.waitLinked(t)
	want := protocol.FeedTuple{Feed: "src:default", Host: "127.0.0.1", Port: base + 1}
	if len(relink.Eaters) != 1 || relink.Eaters[0] != want || len(relink.Feeders) != 0 {
		t.Fatalf("sink relink = %+v, want eaters %+v", relink, want)
	}
}

func TestRestartedFeederKeepsFreePort(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithComponent("src", config.TypeProducer))
	v := startManager(t, cfg, manager.Options{})

	src := connectComponent(t, v, "src", nil, []string{"default"})
	src.waitLinked(t)
	_ = src.medium.Close()
	waitComponent(t, v, "src", "src gone", func(info protocol.ComponentInfo) bool { return !info.Connected })

	restarted := connectComponent(t, v, "src", nil, []string{"default"})
	params := restarted.waitLinked(t)
	if len(params.Feeders) != 1 || params.Feeders[0].Port != cfg.Manager.PortBase {
		t.Fatalf("restarted feeders = %+v, want port %d", params.Feeders, cfg.Manager.PortBase)
	}
}

func TestAdminGraphOrderAndKeycards(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithComponent("sink", config.TypeConsumer, "conv"),
		testsupport.WithComponent("conv", config.TypeConverter, "src"),
		testsupport.WithComponent("src", config.TypeProducer),
	)
	v := startManager(t, cfg, manager.Options{})
	admin := connectAdmin(t, v)

	var order []string
	if err := admin.call(protocol.AdminGetStartOrder, nil, &order); err != nil {
		t.Fatalf("getStartOrder: %v", err)
	}
	if strings.Join(order, ",") != "src,conv,sink" {
		t.Fatalf("order = %v", order)
	}

	var dot string
	if err := admin.call(protocol.AdminGetGraph, nil, &dot); err != nil {
		t.Fatalf("getGraph: %v", err)
	}
	for _, edge := range []string{`"src" -> "conv"`, `"conv" -> "sink"`} {
		if !strings.Contains(dot, edge) {
			t.Fatalf("graph missing %s:\n%s", edge, dot)
		}
	}

	var keycards []bouncer.Keycard
	if err := admin.call(protocol.AdminGetKeycards, nil, &keycards); err != nil {
		t.Fatalf("getKeycards: %v", err)
	}
	if len(keycards) != 1 || keycards[0].IssuerName != "admin-test" || keycards[0].Password != "" {
		t.Fatalf("keycards = %+v", keycards)
	}
	err := admin.call(protocol.AdminRemoveKeycard, protocol.KeycardParams{ID: "missing"}, nil)
	if !errors.Is(err, bouncer.ErrUnknownKeycard) {
		t.Fatalf("removeKeycard: %v, want ErrUnknownKeycard", err)
	}

	var components []protocol.ComponentInfo
	if err := admin.call(protocol.AdminGetComponents, nil, &components); err != nil {
		t.Fatalf("getComponents: %v", err)
	}
	if len(components) != 3 || components[0].Name != "sink" || components[0].Mood != mood.Sleeping {
		t.Fatalf("components = %+v", components)
	}
}

func TestCallComponentRelaysToComponent(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithComponent("src", config.TypeProducer))
	v := startManager(t, cfg, manager.Options{})
	admin := connectAdmin(t, v)

	err := admin.call(protocol.AdminCallComponent, protocol.CallComponentParams{Name: "src", Method: "stats"}, nil)
	if err == nil {
		t.Fatal("callComponent on a component that never connected succeeded")
	}

	src := connectComponent(t, v, "src", nil, []string{"default"})
	src.waitLinked(t)
	var reply map[string]string
	if err := admin.call(protocol.AdminCallComponent, protocol.CallComponentParams{Name: "src", Method: "stats"}, &reply); err != nil {
		t.Fatalf("callComponent: %v", err)
	}
	if reply["method"] != "stats" {
		t.Fatalf("reply = %v", reply)
	}
}

func TestMoodHistoryAndHTTPSurface(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithComponent("src", config.TypeProducer),
		testsupport.WithHTTP(),
	)
	st := testsupport.MustOpenStore(t, cfg)
	v := startManager(t, cfg, manager.Options{Store: st})
	src := connectComponent(t, v, "src", nil, []string{"default"})
	src.waitLinked(t)
	src.call(t, protocol.ManagerError, protocol.ErrorParams{Message: "disk full"})

	admin := connectAdmin(t, v)
	deadline := time.Now().Add(waitTimeout)
	for {
		var records []store.MoodRecord
		if err := admin.call(protocol.AdminGetHistory, protocol.HistoryParams{Component: "src"}, &records); err != nil {
			t.Fatalf("getHistory: %v", err)
		}
		if len(records) > 0 && records[0].Mood == mood.Sad {
			if records[0].Message != "disk full" {
				t.Fatalf("latest record = %+v", records[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("history never recorded sad: %+v", records)
		}
		time.Sleep(20 * time.Millisecond)
	}

	base := "http://" + v.HTTPAddr()
	health := httpGet(t, base+"/healthz")
	if !strings.Contains(health, `"status":"ok"`) || !strings.Contains(health, `"components":1`) {
		t.Fatalf("healthz = %s", health)
	}
	metrics := httpGet(t, base+"/metrics")
	if !strings.Contains(metrics, `conduit_manager_component_mood{component="src",mood="sad"} 1`) {
		t.Fatalf("metrics missing sad gauge:\n%s", metrics)
	}
}

func httpGet(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d: %s", url, resp.StatusCode, body)
	}
	return string(body)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSilentComponentIsMarkedLost(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := testsupport.NewConfig(t, testsupport.WithComponent("src", config.TypeProducer))
	v := startManager(t, cfg, manager.Options{Now: clock.Now})
	src := connectComponent(t, v, "src", nil, []string{"default"})
	src.waitLinked(t)
	src.call(t, protocol.ManagerHeartbeat, protocol.MoodParams{Mood: mood.Happy})
	waitComponent(t, v, "src", "src happy", func(info protocol.ComponentInfo) bool { return info.Mood == mood.Happy })

	clock.Advance(time.Duration(cfg.Component.HeartbeatTimeout+1) * time.Second)
	info := waitComponent(t, v, "src", "src lost", func(info protocol.ComponentInfo) bool { return info.Mood == mood.Lost })
	if !info.Connected {
		t.Fatalf("watchdog disconnected the component: %+v", info)
	}
	if !strings.Contains(info.Message, "no heartbeat") {
		t.Fatalf("message = %q", info.Message)
	}
}

func TestSadComponentRaisesAlert(t *testing.T) {
	titles := make(chan string, 4)
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		titles <- r.Header.Get("Title")
	}))
	defer ntfy.Close()

	cfg := testsupport.NewConfig(t,
		testsupport.WithComponent("src", config.TypeProducer),
		testsupport.WithConfig(func(c *config.Config) { c.Notifications.NtfyTopic = ntfy.URL }),
	)
	v := startManager(t, cfg, manager.Options{})
	src := connectComponent(t, v, "src", nil, []string{"default"})
	src.waitLinked(t)
	src.call(t, protocol.ManagerError, protocol.ErrorParams{Message: "disk full"})

	select {
	case title := <-titles:
		if title != "Conduit - src is sad" {
			t.Fatalf("alert title = %q", title)
		}
	case <-time.After(waitTimeout):
		t.Fatal("no alert for a sad component")
	}
}
