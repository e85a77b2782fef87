package display

import (
	"sync"
	"time"
)

// Window is one usage window as shown to the user. A nil *Window means
// no data.
type Window struct {
	Utilization float64    `json:"utilization"`
	ResetsAt    *time.Time `json:"resets_at,omitempty"`
}

// Snapshot is an immutable view of the monitor state.
type Snapshot struct {
	Mode          string        `json:"mode"`
	Status        string        `json:"status"`
	Remaining     time.Duration `json:"-"`
	RemainingText string        `json:"remaining"`
	ResetAt       *time.Time    `json:"reset_at,omitempty"`
	Session       *Window       `json:"session,omitempty"`
	Weekly        *Window       `json:"weekly,omitempty"`
	ContactTarget string        `json:"contact_target"`
	Error         string        `json:"error,omitempty"`
	Warning       string        `json:"warning,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Surface receives every snapshot the monitor produces. Render is called
// on the monitor goroutine and must not block.
type Surface interface {
	Render(Snapshot)
}

// Multi fans a snapshot out to several surfaces.
type Multi []Surface

// Render forwards the snapshot to each surface in order.
func (m Multi) Render(s Snapshot) {
	for _, surface := range m {
		surface.Render(s)
	}
}

// Recorder keeps the most recent snapshot.
type Recorder struct {
	mu     sync.RWMutex
	latest Snapshot
	ok     bool
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Render stores the snapshot.
func (r *Recorder) Render(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = s
	r.ok = true
}

// Latest returns the last snapshot, if one was rendered.
func (r *Recorder) Latest() (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.ok
}
