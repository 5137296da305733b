package reactor

import "time"

// Poller runs a function on the loop at a fixed interval. Its methods must be
// called from the loop.
type Poller struct {
	loop     *Loop
	fn       func()
	interval time.Duration
	timer    *Timer
}

// NewPoller returns a stopped poller.
func NewPoller(loop *Loop, interval time.Duration, fn func()) *Poller {
	return &Poller{loop: loop, fn: fn, interval: interval}
}

// Start schedules the first run one interval from now. Starting a running
// poller does nothing.
func (p *Poller) Start() {
	if p.timer != nil {
		return
	}
	p.timer = p.loop.CallLater(p.interval, p.tick)
}

func (p *Poller) tick() {
	p.fn()
	if p.timer == nil {
		return
	}
	p.timer.Reset(p.interval)
}

// Stop cancels future runs.
func (p *Poller) Stop() {
	if p.timer == nil {
		return
	}
	p.timer.Cancel()
	p.timer = nil
}

// Running reports whether the poller is started.
func (p *Poller) Running() bool {
	return p.timer != nil
}

// Interval returns the poll interval.
func (p *Poller) Interval() time.Duration {
	return p.interval
}
