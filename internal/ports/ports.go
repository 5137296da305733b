// Package ports hands out TCP ports for feeds.
//
// The manager uses a Cursor that moves monotonically upward from a base port,
// skipping ports that are held or already bound. Workers use a Pool built from
// their configured feeder port ranges and reserve ports per job.
package ports

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
)

// ErrExhausted is returned when no port is available.
var ErrExhausted = errors.New("ports: no free port")

const maxPort = 65535

// Probe reports whether port can be bound.
type Probe func(port int) bool

// ListenProbe returns a Probe that tries to listen on host:port.
func ListenProbe(host string) Probe {
	return func(port int) bool {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			return false
		}
		_ = ln.Close()
		return true
	}
}

// FirstFree returns the first port at or above start that probe accepts.
func FirstFree(start int, probe Probe) (int, error) {
	for port := max(start, 1); port <= maxPort; port++ {
		if probe(port) {
			return port, nil
		}
	}
	return 0, ErrExhausted
}

// Cursor allocates ports upward from a base. A port stays held until it is
// released and is never handed out twice while held. Cursor is not safe for
// concurrent use.
type Cursor struct {
	base  int
	next  int
	probe Probe
	held  map[int]string
}

// NewCursor returns a cursor starting at base. A nil probe probes the
// loopback interface.
func NewCursor(base int, probe Probe) *Cursor {
	if probe == nil {
		probe = ListenProbe("127.0.0.1")
	}
	return &Cursor{base: base, next: base, probe: probe, held: make(map[int]string)}
}

// Next allocates a port for owner.
func (c *Cursor) Next(owner string) (int, error) {
	span := maxPort - c.base + 1
	for range span {
		port := c.next
		c.next++
		if c.next > maxPort {
			c.next = c.base
		}
		if _, held := c.held[port]; held {
			continue
		}
		if !c.probe(port) {
			continue
		}
		c.held[port] = owner
		return port, nil
	}
	return 0, fmt.Errorf("%w above %d", ErrExhausted, c.base)
}

// Take holds port for owner when no one else holds it and it can be bound.
// The cursor position does not move.
func (c *Cursor) Take(owner string, port int) bool {
	if port < c.base || port > maxPort {
		return false
	}
	if holder, held := c.held[port]; held {
		return holder == owner
	}
	if !c.probe(port) {
		return false
	}
	c.held[port] = owner
	return true
}

// Release frees every port held by owner and returns them.
func (c *Cursor) Release(owner string) []int {
	var released []int
	for port, holder := range c.held {
		if holder == owner {
			delete(c.held, port)
			released = append(released, port)
		}
	}
	slices.Sort(released)
	return released
}

// Held returns the number of held ports.
func (c *Cursor) Held() int {
	return len(c.held)
}

// Pool is a fixed set of ports reserved per owner. Pool is not safe for
// concurrent use.
type Pool struct {
	free  []int
	owned map[string][]int
}

// NewPool returns a pool over ports in the given order.
func NewPool(available []int) *Pool {
	return &Pool{free: slices.Clone(available), owned: make(map[string][]int)}
}

// Reserve takes n ports for owner. It reserves nothing when fewer than n
// ports are free.
func (p *Pool) Reserve(owner string, n int) ([]int, error) {
	if n > len(p.free) {
		return nil, fmt.Errorf("%w: %s needs %d, %d left", ErrExhausted, owner, n, len(p.free))
	}
	taken := slices.Clone(p.free[:n])
	p.free = slices.Delete(p.free, 0, n)
	p.owned[owner] = append(p.owned[owner], taken...)
	return taken, nil
}

// Release returns every port held by owner to the pool.
func (p *Pool) Release(owner string) []int {
	ports := p.owned[owner]
	delete(p.owned, owner)
	p.free = append(p.free, ports...)
	return ports
}

// Available returns the number of free ports.
func (p *Pool) Available() int {
	return len(p.free)
}
