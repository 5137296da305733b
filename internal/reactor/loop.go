// Package reactor provides the single-goroutine event loop that owns every
// registry in a conduit process.
//
// Code outside the loop never touches loop-owned state directly: it posts a
// function with Post, or waits for one with Call. Timers created with
// CallLater fire on the loop as well, so loop-owned state needs no locks.
package reactor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned by Call once the loop has stopped.
var ErrStopped = errors.New("reactor: loop stopped")

// Loop runs posted functions one at a time in FIFO order.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	running bool
	stopped bool
}

// New returns a loop that is not yet running.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues fn to run on the loop after everything already queued. It never
// runs fn synchronously, even when called from the loop itself. Posting to a
// stopped loop drops fn.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be called
// from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted functions until ctx ends. Functions still queued when
// ctx ends are dropped.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.stopped {
		l.mu.Unlock()
		return errors.New("reactor: loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return nil
			}
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-l.wake:
		}
	}
}

// Done is closed when Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Timer is a pending CallLater.
type Timer struct {
	loop  *Loop
	fn    func()
	mu    sync.Mutex
	timer *time.Timer
	gen   int
	fired bool
}

// CallLater runs fn on the loop once d has elapsed.
func (l *Loop) CallLater(d time.Duration, fn func()) *Timer {
	t := &Timer{loop: l, fn: fn}
	t.schedule(d)
	return t
}

func (t *Timer) schedule(d time.Duration) {
	t.gen++
	gen := t.gen
	t.fired = false
	t.timer = time.AfterFunc(d, func() {
		t.loop.Post(func() {
			t.mu.Lock()
			if gen != t.gen || t.fired {
				t.mu.Unlock()
				return
			}
			t.fired = true
			t.mu.Unlock()
			t.fn()
		})
	})
}

// Cancel prevents a pending call from running. It reports whether the call
// was still pending.
func (t *Timer) Cancel() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := !t.fired
	t.fired = true
	t.gen++
	t.timer.Stop()
	return pending
}

// Reset reschedules the call to run d from now, whether or not it already ran.
func (t *Timer) Reset(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer.Stop()
	t.schedule(d)
}

// Active reports whether the call is still pending.
func (t *Timer) Active() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.fired
}
