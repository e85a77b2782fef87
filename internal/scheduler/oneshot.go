package scheduler

import (
	"time"

	"github.com/coder/quartz"
)

// Oneshot is a cancellable delayed task keyed by an epoch. Scheduling a
// new epoch replaces the previous task. It is meant to be driven from a
// single goroutine; the fire callback runs on the clock's goroutine.
type Oneshot struct {
	clock quartz.Clock
	timer *quartz.Timer
	epoch time.Time
}

// NewOneshot returns an idle task.
func NewOneshot(clock quartz.Clock) *Oneshot {
	return &Oneshot{clock: clock}
}

// Schedule arranges for fire(epoch) to run at epoch. An epoch in the
// past fires right away.
func (o *Oneshot) Schedule(epoch time.Time, fire func(epoch time.Time)) {
	o.Cancel()

	d := o.clock.Until(epoch, "Oneshot", "until")
	if d < 0 {
		d = 0
	}
	o.epoch = epoch
	o.timer = o.clock.AfterFunc(d, func() { fire(epoch) }, "Oneshot", "schedule")
}

// Cancel stops the pending task, if any. It reports whether a task was
// pending.
func (o *Oneshot) Cancel() bool {
	if o.timer == nil {
		return false
	}
	stopped := o.timer.Stop("Oneshot", "cancel")
	o.timer = nil
	o.epoch = time.Time{}
	return stopped
}

// Epoch returns the epoch of the pending task.
func (o *Oneshot) Epoch() (time.Time, bool) {
	if o.timer == nil {
		return time.Time{}, false
	}
	return o.epoch, true
}
