package testsupport

import (
	"context"
	"testing"
	"time"

	"conduit/internal/reactor"
)

// StartLoop runs a reactor loop until the test ends.
func StartLoop(t testing.TB) *reactor.Loop {
	t.Helper()

	loop := reactor.New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = loop.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop
}

// Flush waits until everything posted to loop so far has run.
func Flush(t testing.TB, loop *reactor.Loop) {
	t.Helper()
	Do(t, loop, func() {})
}

// Do runs fn on loop and waits for it.
func Do(t testing.TB, loop *reactor.Loop, fn func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := loop.Call(ctx, fn); err != nil {
		t.Fatalf("loop call: %v", err)
	}
}

// Eventually polls cond on loop until it holds or the timeout passes.
func Eventually(t testing.TB, loop *reactor.Loop, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		var ok bool
		Do(t, loop, func() { ok = cond() })
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
