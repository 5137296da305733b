package component

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"conduit/internal/logging"
	"conduit/internal/mood"
)

const (
	feederWriteTimeout = 2 * time.Second
	eaterDialTimeout   = 2 * time.Second
	eaterReadBuffer    = 32 * 1024
	breakerFailures    = 3
)

// stateFunc reports an element moving from old to current.
type stateFunc func(old, current mood.PipelineState)

// feeder serves one feed to every eater connected to its port. Data written
// while paused is dropped.
type feeder struct {
	name     string
	listener net.Listener
	logger   *slog.Logger
	bytesOut atomic.Int64

	mu      sync.Mutex
	clients map[net.Conn]struct{}
	state   mood.PipelineState
	closed  bool
}

func listenFeeder(name, host string, port int, logger *slog.Logger) (*feeder, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	f := &feeder{
		name:     name,
		listener: listener,
		logger:   logger.With(logging.String(logging.FieldFeed, name)),
		clients:  make(map[net.Conn]struct{}),
		state:    mood.StatePaused,
	}
	go f.accept()
	return f, nil
}

func (f *feeder) port() int {
	if addr, ok := f.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

func (f *feeder) accept() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			_ = conn.Close()
			return
		}
		f.clients[conn] = struct{}{}
		f.mu.Unlock()
		f.logger.Debug("eater connected", logging.String("remote", conn.RemoteAddr().String()))
		go f.drain(conn)
	}
}

// drain notices an eater hanging up.
func (f *feeder) drain(conn net.Conn) {
	buf := make([]byte, 512)
	for {
		if _, err := conn.Read(buf); err != nil {
			f.drop(conn)
			return
		}
	}
}

func (f *feeder) drop(conn net.Conn) {
	f.mu.Lock()
	delete(f.clients, conn)
	f.mu.Unlock()
	_ = conn.Close()
}

// setState moves the feeder to current and returns the previous state.
func (f *feeder) setState(current mood.PipelineState) mood.PipelineState {
	f.mu.Lock()
	defer f.mu.Unlock()
	old := f.state
	f.state = current
	return old
}

func (f *feeder) clientCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

func (f *feeder) write(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != mood.StatePlaying {
		return
	}
	for conn := range f.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(feederWriteTimeout))
		if _, err := conn.Write(data); err != nil {
			f.logger.Debug("dropping eater", logging.String("remote", conn.RemoteAddr().String()), logging.Error(err))
			delete(f.clients, conn)
			_ = conn.Close()
			continue
		}
		f.bytesOut.Add(int64(len(data)))
	}
}

func (f *feeder) close() {
	f.mu.Lock()
	f.closed = true
	f.state = mood.StateNull
	clients := f.clients
	f.clients = make(map[net.Conn]struct{})
	f.mu.Unlock()
	_ = f.listener.Close()
	for conn := range clients {
		_ = conn.Close()
	}
}

// eater reads one upstream feed. A lost upstream is retried every interval;
// the breaker stops dialing a flapping upstream for a while.
type eater struct {
	feed     string
	addr     string
	interval time.Duration
	logger   *slog.Logger
	breaker  *gobreaker.CircuitBreaker
	onData   func(data []byte)
	onState  stateFunc
	bytesIn  atomic.Int64
	playing  atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newEater(feedName, addr string, interval time.Duration, logger *slog.Logger, onData func([]byte), onState stateFunc) *eater {
	e := &eater{
		feed:     feedName,
		addr:     addr,
		interval: interval,
		logger:   logger.With(logging.String(logging.FieldFeed, feedName)),
		onData:   onData,
		onState:  onState,
		done:     make(chan struct{}),
	}
	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "eater " + feedName,
		Timeout: 4 * interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Debug("upstream breaker changed",
				logging.String("breaker", name),
				logging.String("from", from.String()),
				logging.String("to", to.String()),
			)
		},
	})
	return e
}

func (e *eater) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	e.cancel = cancel
	go e.run(ctx)
}

func (e *eater) stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *eater) run(ctx context.Context) {
	defer close(e.done)
	for {
		conn, err := e.connect(ctx)
		if err == nil {
			e.playing.Store(true)
			e.onState(mood.StatePaused, mood.StatePlaying)
			e.eat(ctx, conn)
			e.playing.Store(false)
			if ctx.Err() != nil {
				return
			}
			e.onState(mood.StatePlaying, mood.StatePaused)
		} else if ctx.Err() == nil && !errors.Is(err, gobreaker.ErrOpenState) {
			e.logger.Debug("upstream not accepting", logging.String("addr", e.addr), logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.interval):
		}
	}
}

func (e *eater) connect(ctx context.Context) (net.Conn, error) {
	result, err := e.breaker.Execute(func() (interface{}, error) {
		dialer := net.Dialer{Timeout: eaterDialTimeout}
		return dialer.DialContext(ctx, "tcp", e.addr)
	})
	if err != nil {
		return nil, err
	}
	return result.(net.Conn), nil
}

func (e *eater) eat(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()
	buf := make([]byte, eaterReadBuffer)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			e.bytesIn.Add(int64(n))
			data := make([]byte, n)
			copy(data, buf[:n])
			e.onData(data)
		}
		if err != nil {
			return
		}
	}
}
