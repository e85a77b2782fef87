package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/quartz"
)

// Countdown ticks once per period until a fixed reset instant. It never
// touches shared state: results are delivered through the callbacks,
// which are expected to enqueue work for the owning goroutine.
type Countdown struct {
	clock    quartz.Clock
	resetAt  time.Time
	period   time.Duration
	onTick   func(remaining time.Duration)
	onExpire func()

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// StartCountdown launches the countdown loop. The first evaluation runs
// immediately so an already expired reset is reported without waiting a
// full period.
func StartCountdown(clock quartz.Clock, resetAt time.Time, period time.Duration, onTick func(time.Duration), onExpire func()) *Countdown {
	if period <= 0 {
		period = time.Second
	}
	c := &Countdown{
		clock:    clock,
		resetAt:  resetAt,
		period:   period,
		onTick:   onTick,
		onExpire: onExpire,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.running.Store(true)
	go c.run()
	return c
}

// ResetAt returns the instant the countdown ends.
func (c *Countdown) ResetAt() time.Time {
	return c.resetAt
}

// Running reports whether the loop is still counting.
func (c *Countdown) Running() bool {
	return c.running.Load()
}

// Stop asks the loop to exit at its next iteration boundary.
func (c *Countdown) Stop() {
	c.running.Store(false)
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once the loop has exited.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}

func (c *Countdown) run() {
	defer close(c.done)

	ticker := c.clock.NewTicker(c.period, "Countdown", "ticker")
	defer ticker.Stop("Countdown", "stop")

	var final *quartz.Timer
	defer func() {
		if final != nil {
			final.Stop()
		}
	}()
	var finalC <-chan time.Time

	for c.running.Load() {
		remaining := c.resetAt.Sub(c.clock.Now("Countdown", "now"))
		if remaining <= 0 {
			c.running.Store(false)
			c.onExpire()
			return
		}
		c.onTick(remaining)

		// Land exactly on the reset instant instead of the next whole tick.
		if remaining < c.period && final == nil {
			final = c.clock.NewTimer(remaining, "Countdown", "final")
			finalC = final.C
		}

		select {
		case <-ticker.C:
		case <-finalC:
			finalC = nil
		case <-c.stop:
			return
		}
	}
}
