package usage

import (
	"time"
)

// Window is one usage window as reported by the remote API.
// A nil ResetsAt with ResetInvalid unset means the API reported no reset
// time, which it does for a window with no usage since its last reset.
type Window struct {
	Utilization float64
	ResetsAt    *time.Time
	// ResetInvalid is set when a reset time was present but unreadable.
	ResetInvalid bool
}

// Usage holds both windows from a single fetch. A nil window means the
// payload carried no usable data for it.
type Usage struct {
	Session *Window
	Weekly  *Window
}

// Outcome describes what an observation requires from the caller.
type Outcome struct {
	// EpochChanged is set when the session reset timestamp moved.
	EpochChanged bool
	// RolledOver is set when the change looks like the window just reset.
	RolledOver bool
	// NotifyNow asks for an immediate notification.
	NotifyNow bool
	// Schedule, when set, asks for a notification at that instant.
	Schedule *time.Time
	// CancelPending asks the caller to cancel any scheduled notification.
	CancelPending bool
}
