package limit

import (
	"fmt"
	"time"

	"github.com/goodtune/quotawatch/internal/storage"
)

// DefaultWindow is the fixed length of a usage window.
const DefaultWindow = 5 * time.Hour

// Status is the lifecycle position of the limit.
type Status int

const (
	// StatusActive means no limit is in effect.
	StatusActive Status = iota
	// StatusWaiting means the limit was hit and the window is counting down.
	StatusWaiting
	// StatusAvailable means the reset time has been reached.
	StatusAvailable
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusWaiting:
		return "waiting"
	case StatusAvailable:
		return "available"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Decision tells the caller whether a transition requires a notification.
type Decision struct {
	Notify  bool
	Target  string
	ResetAt time.Time
}

// Machine drives the Active -> Waiting -> Available -> Active lifecycle
// over the limit fields of a record. It is not safe for concurrent use;
// the monitor goroutine is its only caller.
type Machine struct {
	record *storage.Record
	window time.Duration
	status Status
}

// New returns a machine operating on record. The status starts as
// Active until Recover derives it from the persisted fields.
func New(record *storage.Record, window time.Duration) *Machine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Machine{record: record, window: window}
}

// Status returns the current status.
func (m *Machine) Status() Status {
	return m.status
}

// Window returns the configured window length.
func (m *Machine) Window() time.Duration {
	return m.window
}

// ResetAt returns the pending reset time, if any.
func (m *Machine) ResetAt() (time.Time, bool) {
	if m.record.ResetAt == nil {
		return time.Time{}, false
	}
	return *m.record.ResetAt, true
}

// LimitReached starts a new window at now. Signalling again while a
// window is running restarts it.
func (m *Machine) LimitReached(now time.Time) time.Time {
	hit := now
	reset := now.Add(m.window)
	m.record.LimitHitAt = &hit
	m.record.ResetAt = &reset
	m.record.NotificationSent = false
	m.status = StatusWaiting
	return reset
}

// Evaluate moves Waiting to Available once now reaches the reset time.
// The first evaluation that observes an unsent reset returns a notify
// decision and marks it sent; later evaluations never do.
func (m *Machine) Evaluate(now time.Time) Decision {
	if m.status != StatusWaiting || m.record.ResetAt == nil {
		return Decision{}
	}
	if now.Before(*m.record.ResetAt) {
		return Decision{}
	}

	m.status = StatusAvailable
	return m.claimNotification()
}

// Clear returns to Active and forgets the window.
func (m *Machine) Clear() {
	m.record.LimitHitAt = nil
	m.record.ResetAt = nil
	m.record.NotificationSent = false
	m.status = StatusActive
}

// Recover derives the status from persisted fields at startup. An
// expired, unannounced reset yields a notify decision.
func (m *Machine) Recover(now time.Time) Decision {
	if m.record.ResetAt == nil {
		m.record.LimitHitAt = nil
		m.record.NotificationSent = false
		m.status = StatusActive
		return Decision{}
	}

	if m.record.LimitHitAt == nil {
		hit := m.record.ResetAt.Add(-m.window)
		m.record.LimitHitAt = &hit
	}

	if now.Before(*m.record.ResetAt) {
		m.record.NotificationSent = false
		m.status = StatusWaiting
		return Decision{}
	}

	m.status = StatusAvailable
	return m.claimNotification()
}

// Remaining returns the time left until reset, never negative.
func (m *Machine) Remaining(now time.Time) time.Duration {
	if m.status != StatusWaiting || m.record.ResetAt == nil {
		return 0
	}
	d := m.record.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

func (m *Machine) claimNotification() Decision {
	if m.record.NotificationSent {
		return Decision{}
	}
	m.record.NotificationSent = true
	return Decision{
		Notify:  true,
		Target:  m.record.ContactTarget,
		ResetAt: *m.record.ResetAt,
	}
}

// FormatRemaining renders d as HH:MM:SS, rounding partial seconds up so
// the display reaches 00:00:00 only at the reset instant.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "00:00:00"
	}
	secs := int64((d + time.Second - 1) / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
