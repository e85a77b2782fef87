package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/quotawatch/internal/config"
	"github.com/goodtune/quotawatch/internal/fetcher"
	"github.com/goodtune/quotawatch/internal/notify"
	"github.com/goodtune/quotawatch/internal/storage"
	"github.com/goodtune/quotawatch/internal/usage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type memStore struct {
	mu      sync.Mutex
	record  *storage.Record
	loadErr error
}

func (s *memStore) Load(ctx context.Context) (*storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.record == nil {
		return nil, storage.ErrNotFound
	}
	r := s.record.Clone()
	return &r, nil
}

func (s *memStore) Save(ctx context.Context, record storage.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := record.Clone()
	s.record = &r
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) saved() storage.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record == nil {
		return storage.Record{}
	}
	return s.record.Clone()
}

type dispatchCall struct {
	message string
	target  string
	at      time.Time
}

type fakeDispatcher struct {
	clock quartz.Clock
	err   error

	mu    sync.Mutex
	calls []dispatchCall
}

func (d *fakeDispatcher) Notify(ctx context.Context, message, target string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{message: message, target: target, at: d.clock.Now()})
	return d.err
}

func (d *fakeDispatcher) sent() []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatchCall(nil), d.calls...)
}

type fakeFetcher struct {
	mu      sync.Mutex
	results []usage.Usage
	err     error
	calls   int
}

func (f *fakeFetcher) Fetch(ctx context.Context) (*fetcher.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return &fetcher.Result{OrgID: "org-123", Usage: f.results[i]}, nil
}

func sessionAt(pct float64, resets time.Time) usage.Usage {
	r := resets
	return usage.Usage{Session: &usage.Window{Utilization: pct, ResetsAt: &r}}
}

type harness struct {
	ctx   context.Context
	clock *quartz.Mock
	store *memStore
	disp  *fakeDispatcher
	mon   *Monitor
}

func newHarness(t *testing.T, store *memStore) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	clock := quartz.NewMock(t)
	clock.Set(base).MustWait(ctx)

	if store == nil {
		store = &memStore{}
	}
	return &harness{
		ctx:   ctx,
		clock: clock,
		store: store,
		disp:  &fakeDispatcher{clock: clock},
	}
}

func (h *harness) start(t *testing.T, cfg Config, f Fetcher) {
	t.Helper()
	if cfg.Message == "" {
		cfg.Message = "tokens are back"
	}
	h.mon = New(cfg, Deps{
		Clock:      h.clock,
		Store:      h.store,
		Dispatcher: h.disp,
		Fetcher:    f,
		Logger:     zerolog.Nop(),
	})

	runCtx, cancel := context.WithCancel(h.ctx)
	done := make(chan error, 1)
	go func() { done <- h.mon.Run(runCtx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) snapshotStatus(t *testing.T) string {
	t.Helper()
	s, err := h.mon.Snapshot(h.ctx)
	require.NoError(t, err)
	return s.Status
}

func (h *harness) requireSent(t *testing.T, n int) []dispatchCall {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.disp.sent()) == n }, 5*time.Second, 5*time.Millisecond)
	require.Never(t, func() bool { return len(h.disp.sent()) > n }, 100*time.Millisecond, 10*time.Millisecond)
	return h.disp.sent()
}

func TestRecoveryExpiredNotifiesOnce(t *testing.T) {
	t.Parallel()
	hit := base.Add(-6 * time.Hour)
	reset := base.Add(-time.Hour)
	store := &memStore{record: &storage.Record{
		LimitHitAt:    &hit,
		ResetAt:       &reset,
		ContactTarget: "+15550001111",
	}}

	h := newHarness(t, store)
	h.start(t, Config{Mode: config.ModeCountdown}, nil)

	calls := h.requireSent(t, 1)
	require.Equal(t, "+15550001111", calls[0].target)
	require.Equal(t, "tokens are back", calls[0].message)
	require.Equal(t, "available", h.snapshotStatus(t))
	require.True(t, h.store.saved().NotificationSent)

	// A second process start over the same record stays quiet.
	again := newHarness(t, store)
	again.start(t, Config{Mode: config.ModeCountdown}, nil)
	require.Equal(t, "available", again.snapshotStatus(t))
	again.requireSent(t, 0)
}

func TestRecoveryResumesCountdown(t *testing.T) {
	t.Parallel()
	reset := base.Add(3 * time.Second)
	hit := reset.Add(-5 * time.Hour)
	store := &memStore{record: &storage.Record{LimitHitAt: &hit, ResetAt: &reset, ContactTarget: "me"}}

	h := newHarness(t, store)
	trap := h.clock.Trap().NewTicker("Countdown", "ticker")
	defer trap.Close()

	h.start(t, Config{Mode: config.ModeCountdown}, nil)
	trap.MustWait(h.ctx).MustRelease(h.ctx)

	s, err := h.mon.Snapshot(h.ctx)
	require.NoError(t, err)
	require.Equal(t, "waiting", s.Status)
	require.Equal(t, "00:00:03", s.RemainingText)

	for i := 0; i < 3; i++ {
		_, w := h.clock.AdvanceNext()
		w.MustWait(h.ctx)
	}

	calls := h.requireSent(t, 1)
	require.True(t, calls[0].at.Equal(reset), "expected dispatch at %v, got %v", reset, calls[0].at)
	require.Equal(t, "available", h.snapshotStatus(t))
}

func TestFiveHourWindowScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	trap := h.clock.Trap().NewTicker("Countdown", "ticker")
	defer trap.Close()

	h.start(t, Config{Mode: config.ModeCountdown, Tick: time.Hour, ContactTarget: "+15550001111"}, nil)
	require.Equal(t, "active", h.snapshotStatus(t))

	require.NoError(t, h.mon.LimitReached())
	trap.MustWait(h.ctx).MustRelease(h.ctx)

	s, err := h.mon.Snapshot(h.ctx)
	require.NoError(t, err)
	require.Equal(t, "waiting", s.Status)
	require.NotNil(t, s.ResetAt)
	require.True(t, s.ResetAt.Equal(time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)))

	saved := h.store.saved()
	require.NotNil(t, saved.LimitHitAt)
	require.True(t, saved.LimitHitAt.Equal(base))
	require.False(t, saved.NotificationSent)

	for i := 0; i < 5; i++ {
		_, w := h.clock.AdvanceNext()
		w.MustWait(h.ctx)
	}

	calls := h.requireSent(t, 1)
	require.Equal(t, "+15550001111", calls[0].target)
	require.True(t, calls[0].at.Equal(*s.ResetAt))
	require.Equal(t, "available", h.snapshotStatus(t))
	require.True(t, h.store.saved().NotificationSent)
}

func TestLimitThenClear(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	tickerTrap := h.clock.Trap().NewTicker("Countdown", "ticker")
	defer tickerTrap.Close()
	stopTrap := h.clock.Trap().TickerStop("Countdown", "stop")
	defer stopTrap.Close()

	h.start(t, Config{Mode: config.ModeCountdown}, nil)

	require.NoError(t, h.mon.LimitReached())
	tickerTrap.MustWait(h.ctx).MustRelease(h.ctx)
	require.Equal(t, "waiting", h.snapshotStatus(t))

	require.NoError(t, h.mon.Clear())
	stopTrap.MustWait(h.ctx).MustRelease(h.ctx)

	require.Equal(t, "active", h.snapshotStatus(t))
	saved := h.store.saved()
	require.Nil(t, saved.LimitHitAt)
	require.Nil(t, saved.ResetAt)
	require.False(t, saved.NotificationSent)
	h.requireSent(t, 0)
}

func TestDispatchFailureBecomesWarning(t *testing.T) {
	t.Parallel()
	hit := base.Add(-6 * time.Hour)
	reset := base.Add(-time.Hour)
	h := newHarness(t, &memStore{record: &storage.Record{LimitHitAt: &hit, ResetAt: &reset, ContactTarget: "me"}})
	h.disp.err = notify.ErrToolNotFound

	h.start(t, Config{Mode: config.ModeCountdown}, nil)
	h.requireSent(t, 1)

	require.Eventually(t, func() bool {
		s, err := h.mon.Snapshot(h.ctx)
		return err == nil && s.Warning == "Notification tool not installed"
	}, 5*time.Second, 5*time.Millisecond)
	require.True(t, h.store.saved().NotificationSent, "failed dispatch is not retried")

	require.NoError(t, h.mon.Clear())
	s, err := h.mon.Snapshot(h.ctx)
	require.NoError(t, err)
	require.Empty(t, s.Warning)
}

func TestLoadErrorFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &memStore{loadErr: errors.New("parse state file: unexpected EOF")})

	h.start(t, Config{Mode: config.ModeCountdown, ContactTarget: "me"}, nil)

	s, err := h.mon.Snapshot(h.ctx)
	require.NoError(t, err)
	require.Equal(t, "active", s.Status)
	require.Equal(t, "me", s.ContactTarget)
	h.requireSent(t, 0)
}

func pollConfig() Config {
	return Config{
		Mode:              config.ModePoll,
		PollInterval:      time.Hour,
		HighWater:         95,
		RolloverThreshold: 10,
		ContactTarget:     "me",
	}
}

func TestPollRolloverNotifiesOnce(t *testing.T) {
	t.Parallel()
	t1 := base.Add(30 * time.Minute)
	t2 := base.Add(5*time.Hour + 30*time.Minute)

	h := newHarness(t, nil)
	pollerTrap := h.clock.Trap().NewTicker("Poller", "ticker")
	defer pollerTrap.Close()
	scheduleTrap := h.clock.Trap().AfterFunc("Oneshot", "schedule")
	defer scheduleTrap.Close()
	cancelTrap := h.clock.Trap().TimerStop("Oneshot", "cancel")
	defer cancelTrap.Close()

	f := &fakeFetcher{results: []usage.Usage{sessionAt(97, t1), sessionAt(2, t2)}}
	h.start(t, pollConfig(), f)
	pollerTrap.MustWait(h.ctx).MustRelease(h.ctx)

	call := scheduleTrap.MustWait(h.ctx)
	require.Equal(t, 30*time.Minute, call.Duration)
	call.MustRelease(h.ctx)
	require.Equal(t, "waiting", h.snapshotStatus(t))

	require.NoError(t, h.mon.Refresh())
	cancelTrap.MustWait(h.ctx).MustRelease(h.ctx)

	calls := h.requireSent(t, 1)
	require.Equal(t, "me", calls[0].target)
	require.True(t, calls[0].at.Equal(base), "rollover notifies immediately")

	saved := h.store.saved()
	require.Equal(t, "org-123", saved.OrgID)
	require.NotNil(t, saved.LastSessionResetAt)
	require.True(t, saved.LastSessionResetAt.Equal(t2))
	require.False(t, saved.SessionNotified)

	// The cancelled schedule at t1 is gone: the next event is the poll tick.
	d, w := h.clock.AdvanceNext()
	w.MustWait(h.ctx)
	require.Equal(t, time.Hour, d)
	h.requireSent(t, 1)
}

func TestPollIdleWindowAnnouncesReset(t *testing.T) {
	t.Parallel()
	t1 := base.Add(30 * time.Minute)
	t2 := base.Add(6 * time.Hour)

	h := newHarness(t, nil)
	pollerTrap := h.clock.Trap().NewTicker("Poller", "ticker")
	defer pollerTrap.Close()

	idle := usage.Usage{Session: &usage.Window{Utilization: 0}}
	f := &fakeFetcher{results: []usage.Usage{sessionAt(40, t1), idle, sessionAt(25, t2)}}
	h.start(t, pollConfig(), f)
	pollerTrap.MustWait(h.ctx).MustRelease(h.ctx)

	lastReset := func(want *time.Time) func() bool {
		return func() bool {
			got := h.store.saved().LastSessionResetAt
			if want == nil || got == nil {
				return want == nil && got == nil && h.store.saved().OrgID != ""
			}
			return got.Equal(*want)
		}
	}

	require.Eventually(t, lastReset(&t1), 5*time.Second, 5*time.Millisecond)
	require.Empty(t, h.disp.sent())

	require.NoError(t, h.mon.Refresh())
	calls := h.requireSent(t, 1)
	require.Equal(t, "me", calls[0].target)
	require.Eventually(t, lastReset(nil), 5*time.Second, 5*time.Millisecond)
	require.Equal(t, "available", h.snapshotStatus(t))

	require.NoError(t, h.mon.Refresh())
	require.Eventually(t, lastReset(&t2), 5*time.Second, 5*time.Millisecond)
	h.requireSent(t, 1)

	saved := h.store.saved()
	require.False(t, saved.SessionNotified)
	require.Equal(t, "active", h.snapshotStatus(t))
}

func TestPollHighWaterFiresAtReset(t *testing.T) {
	t.Parallel()
	t1 := base.Add(10 * time.Minute)

	h := newHarness(t, nil)
	pollerTrap := h.clock.Trap().NewTicker("Poller", "ticker")
	defer pollerTrap.Close()
	scheduleTrap := h.clock.Trap().AfterFunc("Oneshot", "schedule")
	defer scheduleTrap.Close()

	f := &fakeFetcher{results: []usage.Usage{sessionAt(96, t1)}}
	h.start(t, pollConfig(), f)
	pollerTrap.MustWait(h.ctx).MustRelease(h.ctx)
	scheduleTrap.MustWait(h.ctx).MustRelease(h.ctx)

	d, w := h.clock.AdvanceNext()
	w.MustWait(h.ctx)
	require.Equal(t, 10*time.Minute, d)

	calls := h.requireSent(t, 1)
	require.True(t, calls[0].at.Equal(t1))
	require.True(t, h.store.saved().SessionNotified)
	require.Equal(t, "available", h.snapshotStatus(t))
}

func TestPollLimitSignalSchedulesCurrentEpoch(t *testing.T) {
	t.Parallel()
	t1 := base.Add(2 * time.Hour)

	h := newHarness(t, nil)
	scheduleTrap := h.clock.Trap().AfterFunc("Oneshot", "schedule")
	defer scheduleTrap.Close()

	f := &fakeFetcher{results: []usage.Usage{sessionAt(50, t1)}}
	h.start(t, pollConfig(), f)

	require.Eventually(t, func() bool {
		s, err := h.mon.Snapshot(h.ctx)
		return err == nil && s.Session != nil
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, h.mon.LimitReached())
	call := scheduleTrap.MustWait(h.ctx)
	require.Equal(t, 2*time.Hour, call.Duration)
	call.MustRelease(h.ctx)

	require.Equal(t, "waiting", h.snapshotStatus(t))
}

func TestPollFetchErrorShown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	f := &fakeFetcher{err: &fetcher.HTTPError{StatusCode: 403, Path: "/api/organizations"}}
	h.start(t, pollConfig(), f)

	require.Eventually(t, func() bool {
		s, err := h.mon.Snapshot(h.ctx)
		return err == nil && s.Error == "Session expired (403), log in again"
	}, 5*time.Second, 5*time.Millisecond)

	s, err := h.mon.Snapshot(h.ctx)
	require.NoError(t, err)
	require.Nil(t, s.Session)
	require.Equal(t, "active", s.Status)
}

func TestCallsAfterStopFail(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.mon = New(Config{Mode: config.ModeCountdown}, Deps{
		Clock:      h.clock,
		Store:      h.store,
		Dispatcher: h.disp,
		Logger:     zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(h.ctx)
	done := make(chan error, 1)
	go func() { done <- h.mon.Run(ctx) }()
	require.Equal(t, "active", h.snapshotStatus(t))

	cancel()
	require.NoError(t, <-done)

	require.ErrorIs(t, h.mon.LimitReached(), ErrStopped)
	_, err := h.mon.Snapshot(h.ctx)
	require.ErrorIs(t, err, ErrStopped)
}
