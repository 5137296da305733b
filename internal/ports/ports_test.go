package ports_test

import (
	"errors"
	"net"
	"slices"
	"testing"

	"conduit/internal/ports"
)

func TestCursorSkipsBoundAndHeldPorts(t *testing.T) {
	bound := map[int]bool{5501: true}
	probe := func(port int) bool { return !bound[port] }
	c := ports.NewCursor(5500, probe)

	first, err := c.Next("producer")
	if err != nil || first != 5500 {
		t.Fatalf("first port: %d %v", first, err)
	}
	second, err := c.Next("producer")
	if err != nil || second != 5502 {
		t.Fatalf("expected bound port 5501 to be skipped, got %d %v", second, err)
	}
	third, _ := c.Next("converter")
	if third != 5503 {
		t.Fatalf("expected monotonic cursor, got %d", third)
	}

	released := c.Release("producer")
	if !slices.Equal(released, []int{5500, 5502}) {
		t.Fatalf("unexpected release: %v", released)
	}
	if c.Held() != 1 {
		t.Fatalf("expected one held port, got %d", c.Held())
	}
	next, _ := c.Next("consumer")
	if next != 5504 {
		t.Fatalf("cursor should keep moving up, got %d", next)
	}
}

func TestCursorNeverReturnsHeldPortAfterWrap(t *testing.T) {
	c := ports.NewCursor(65534, func(int) bool { return true })
	a, _ := c.Next("a")
	b, _ := c.Next("b")
	if a != 65534 || b != 65535 {
		t.Fatalf("unexpected ports %d %d", a, b)
	}
	if _, err := c.Next("c"); !errors.Is(err, ports.ErrExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	c.Release("a")
	again, err := c.Next("c")
	if err != nil || again != 65534 {
		t.Fatalf("expected released port after wrap, got %d %v", again, err)
	}
}

func TestCursorTakeReclaimsReleasedPort(t *testing.T) {
	bound := map[int]bool{}
	c := ports.NewCursor(5500, func(port int) bool { return !bound[port] })

	port, _ := c.Next("producer")
	if !c.Take("producer", port) {
		t.Fatal("owner should be able to take a port it holds")
	}
	if c.Take("converter", port) {
		t.Fatal("took a port held by another owner")
	}
	c.Release("producer")
	if !c.Take("producer", port) {
		t.Fatalf("could not take released port %d back", port)
	}
	c.Release("producer")

	bound[port] = true
	if c.Take("producer", port) {
		t.Fatal("took a port that cannot be bound")
	}
	if c.Take("producer", 80) {
		t.Fatal("took a port below the base")
	}
	if next, _ := c.Next("consumer"); next != 5501 {
		t.Fatalf("Take moved the cursor: next = %d", next)
	}
}

func TestListenProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	if ports.ListenProbe("127.0.0.1")(port) {
		t.Fatal("probe accepted a bound port")
	}
}

func TestPoolReserveAndRelease(t *testing.T) {
	p := ports.NewPool([]int{8600, 8601, 8602})
	got, err := p.Reserve("job-a", 2)
	if err != nil || !slices.Equal(got, []int{8600, 8601}) {
		t.Fatalf("reserve: %v %v", got, err)
	}
	if _, err := p.Reserve("job-b", 2); !errors.Is(err, ports.ErrExhausted) {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	if p.Available() != 1 {
		t.Fatalf("failed reserve should not consume ports, available=%d", p.Available())
	}
	p.Release("job-a")
	if p.Available() != 3 {
		t.Fatalf("expected 3 free after release, got %d", p.Available())
	}
}
