package usage

import (
	"time"

	"github.com/goodtune/quotawatch/internal/limit"
	"github.com/goodtune/quotawatch/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultHighWater is the session utilization that arms a scheduled notification.
	DefaultHighWater = 95.0

	// DefaultRolloverThreshold is the utilization below which a new epoch
	// is taken to mean the session window just reset.
	DefaultRolloverThreshold = 10.0
)

// Config holds tracker configuration
type Config struct {
	HighWater         float64
	RolloverThreshold float64
}

// Tracker applies fetched usage to the usage fields of a record and
// decides when the session window reset must be announced. It is owned by
// the monitor goroutine and is not safe for concurrent use.
type Tracker struct {
	record    *storage.Record
	highWater float64
	rollover  float64
	pending   *time.Time
	rolled    bool
	logger    zerolog.Logger
}

// NewTracker creates a tracker over record.
func NewTracker(record *storage.Record, config Config, logger zerolog.Logger) *Tracker {
	if config.HighWater <= 0 {
		config.HighWater = DefaultHighWater
	}
	if config.RolloverThreshold <= 0 {
		config.RolloverThreshold = DefaultRolloverThreshold
	}

	return &Tracker{
		record:    record,
		highWater: config.HighWater,
		rollover:  config.RolloverThreshold,
		logger:    logger.With().Str("component", "usage-tracker").Logger(),
	}
}

// Observe records a fetch result and returns the resulting actions.
//
// Rollover detection is a heuristic: a moved reset timestamp with low
// utilization is read as "the window just reset". A reset that happens
// during heavy use is missed, and a moved timestamp at low use fires even
// if nothing was exhausted. A window that reports no reset time after an
// epoch was seen is idle since its reset and goes through the same rule;
// the next timestamp then starts a fresh epoch.
func (t *Tracker) Observe(u Usage) Outcome {
	var out Outcome

	if u.Weekly != nil {
		t.record.WeeklyPct = u.Weekly.Utilization
		t.record.WeeklyResetAt = u.Weekly.ResetsAt
	} else {
		t.record.WeeklyPct = 0
		t.record.WeeklyResetAt = nil
	}

	if u.Session == nil {
		t.record.SessionPct = 0
		t.record.SessionResetAt = nil
		t.rolled = false
		return out
	}

	s := u.Session
	t.record.SessionPct = s.Utilization
	t.record.SessionResetAt = s.ResetsAt

	prev := t.record.LastSessionResetAt
	if s.ResetsAt == nil && !s.ResetInvalid && prev != nil {
		// The previous epoch ended and no usage has started a new one yet.
		out.EpochChanged = true
		out.RolledOver = s.Utilization < t.rollover
		if out.RolledOver && !t.record.SessionNotified {
			out.NotifyNow = true
		}
		if t.pending != nil {
			out.CancelPending = true
			t.pending = nil
		}

		t.record.LastSessionResetAt = nil
		t.record.SessionNotified = false

		t.logger.Debug().
			Time("previous_epoch", *prev).
			Bool("rolled_over", out.RolledOver).
			Float64("utilization", s.Utilization).
			Msg("Session window idle after reset")
	} else if s.ResetsAt != nil && (prev == nil || !prev.Equal(*s.ResetsAt)) {
		out.EpochChanged = true
		out.RolledOver = prev != nil && s.Utilization < t.rollover

		if out.RolledOver {
			if !t.record.SessionNotified {
				out.NotifyNow = true
			}
			if t.pending != nil {
				out.CancelPending = true
				t.pending = nil
			}
		} else if t.pending != nil && !t.pending.Equal(*s.ResetsAt) {
			out.CancelPending = true
			t.pending = nil
		}

		epoch := *s.ResetsAt
		t.record.LastSessionResetAt = &epoch
		t.record.SessionNotified = false

		t.logger.Debug().
			Time("epoch", epoch).
			Bool("rolled_over", out.RolledOver).
			Float64("utilization", s.Utilization).
			Msg("Session epoch changed")
	}
	t.rolled = out.RolledOver

	if !out.RolledOver && s.Utilization >= t.highWater {
		if at, ok := t.arm(); ok {
			out.Schedule = &at
		}
	}

	return out
}

// ScheduleCurrent arms a notification for the current epoch, as if the
// high-water mark had been crossed. It reports false when no epoch is
// known, the epoch was already announced, or one is already pending.
func (t *Tracker) ScheduleCurrent() (time.Time, bool) {
	return t.arm()
}

func (t *Tracker) arm() (time.Time, bool) {
	if t.pending != nil || t.record.SessionNotified || t.record.SessionResetAt == nil {
		return time.Time{}, false
	}
	at := *t.record.SessionResetAt
	t.pending = &at
	return at, true
}

// Due accepts a fired scheduled notification for epoch. It returns true
// exactly once per epoch, and only while that epoch is still current.
func (t *Tracker) Due(epoch time.Time) bool {
	if t.pending == nil || !t.pending.Equal(epoch) {
		return false
	}
	t.pending = nil

	current := t.record.LastSessionResetAt
	if current == nil || !current.Equal(epoch) || t.record.SessionNotified {
		return false
	}
	t.record.SessionNotified = true
	return true
}

// MarkNotified records that the current epoch has been announced.
func (t *Tracker) MarkNotified() {
	t.record.SessionNotified = true
}

// Rearm clears the announced flag after an explicit user action.
func (t *Tracker) Rearm() {
	t.record.SessionNotified = false
	t.rolled = false
}

// Pending returns the epoch of the scheduled notification, if any.
func (t *Tracker) Pending() (time.Time, bool) {
	if t.pending == nil {
		return time.Time{}, false
	}
	return *t.pending, true
}

// Status maps the usage fields onto the limit lifecycle for display.
func (t *Tracker) Status() limit.Status {
	switch {
	case t.rolled:
		return limit.StatusAvailable
	case t.pending != nil:
		return limit.StatusWaiting
	case t.record.SessionNotified:
		return limit.StatusAvailable
	case t.record.SessionPct >= t.highWater:
		return limit.StatusWaiting
	default:
		return limit.StatusActive
	}
}

// Remaining returns the time until the session window resets.
func (t *Tracker) Remaining(now time.Time) time.Duration {
	if t.record.SessionResetAt == nil {
		return 0
	}
	d := t.record.SessionResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
