package storage

import "time"

// Record is the persisted state of both monitor modes.
// Countdown mode uses the limit fields, poll mode the usage fields.
type Record struct {
	ContactTarget string `json:"contact_target"`

	LimitHitAt       *time.Time `json:"limit_hit_at"`
	ResetAt          *time.Time `json:"reset_at"`
	NotificationSent bool       `json:"notification_sent"`

	OrgID              string     `json:"org_id,omitempty"`
	SessionPct         float64    `json:"session_pct"`
	SessionResetAt     *time.Time `json:"session_reset_at,omitempty"`
	WeeklyPct          float64    `json:"weekly_pct"`
	WeeklyResetAt      *time.Time `json:"weekly_reset_at,omitempty"`
	SessionNotified    bool       `json:"session_notified"`
	LastSessionResetAt *time.Time `json:"last_session_reset_at,omitempty"`
}

// Clone returns a deep copy so snapshots never alias the live record.
func (r Record) Clone() Record {
	out := r
	out.LimitHitAt = cloneTime(r.LimitHitAt)
	out.ResetAt = cloneTime(r.ResetAt)
	out.SessionResetAt = cloneTime(r.SessionResetAt)
	out.WeeklyResetAt = cloneTime(r.WeeklyResetAt)
	out.LastSessionResetAt = cloneTime(r.LastSessionResetAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
