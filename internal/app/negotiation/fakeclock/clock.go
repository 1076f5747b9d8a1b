// Package fakeclock provides a manually advanced negotiation.Clock for tests.
package fakeclock

import (
	"sync"
	"time"

	"github.com/dkeye/voicechan/internal/app/negotiation"
)

type Clock struct {
	mu     sync.Mutex
	timers []*timer
}

type timer struct {
	clock   *Clock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func New() *Clock { return &Clock{} }

func (c *Clock) AfterFunc(d time.Duration, f func()) negotiation.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *timer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Pending counts timers neither stopped nor fired.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FireAll runs every pending timer registered so far. Timers created by the
// callbacks stay pending.
func (c *Clock) FireAll() int {
	c.mu.Lock()
	var due []*timer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
	return len(due)
}
