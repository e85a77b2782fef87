package monitor

import (
	"time"

	"github.com/goodtune/quotawatch/internal/display"
	"github.com/goodtune/quotawatch/internal/fetcher"
)

type eventKind int

const (
	evLimit eventKind = iota
	evClear
	evRefresh
	evCountdownTick
	evCountdownExpired
	evFetchResult
	evNotifyDue
	evDispatchResult
	evSnapshot
)

func (k eventKind) String() string {
	switch k {
	case evLimit:
		return "limit"
	case evClear:
		return "clear"
	case evRefresh:
		return "refresh"
	case evCountdownTick:
		return "countdown_tick"
	case evCountdownExpired:
		return "countdown_expired"
	case evFetchResult:
		return "fetch_result"
	case evNotifyDue:
		return "notify_due"
	case evDispatchResult:
		return "dispatch_result"
	case evSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// event is the only way work reaches the monitor goroutine.
type event struct {
	kind eventKind

	// epoch identifies the countdown or scheduled notification that
	// produced the event, so stale ones can be discarded.
	epoch time.Time

	result *fetcher.Result
	err    error
	reason string

	reply chan display.Snapshot
}
