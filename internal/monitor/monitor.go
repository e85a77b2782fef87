package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/goodtune/quotawatch/internal/config"
	"github.com/goodtune/quotawatch/internal/display"
	"github.com/goodtune/quotawatch/internal/fetcher"
	"github.com/goodtune/quotawatch/internal/limit"
	"github.com/goodtune/quotawatch/internal/metrics"
	"github.com/goodtune/quotawatch/internal/notify"
	"github.com/goodtune/quotawatch/internal/scheduler"
	"github.com/goodtune/quotawatch/internal/storage"
	"github.com/goodtune/quotawatch/internal/usage"
	"github.com/rs/zerolog"
)

// ErrStopped is returned by calls made after the monitor has shut down.
var ErrStopped = errors.New("monitor stopped")

var allStatuses = []string{
	limit.StatusActive.String(),
	limit.StatusWaiting.String(),
	limit.StatusAvailable.String(),
}

// Dispatcher delivers an outbound notification.
type Dispatcher interface {
	Notify(ctx context.Context, message, target string) error
}

// Fetcher retrieves remote usage windows.
type Fetcher interface {
	Fetch(ctx context.Context) (*fetcher.Result, error)
}

// Config holds monitor settings
type Config struct {
	Mode              string
	Window            time.Duration
	Tick              time.Duration
	PollInterval      time.Duration
	HighWater         float64
	RolloverThreshold float64
	Message           string
	ContactTarget     string
}

// Deps are the collaborators of a monitor. Fetcher is only needed in poll
// mode; Clock defaults to the real clock.
type Deps struct {
	Clock      quartz.Clock
	Store      storage.Store
	Dispatcher Dispatcher
	Fetcher    Fetcher
	Surface    display.Surface
	Logger     zerolog.Logger
}

// Monitor owns the state record. All mutation and persistence happen on
// the goroutine running Run; everything else talks to it through events.
type Monitor struct {
	cfg        Config
	clock      quartz.Clock
	store      storage.Store
	dispatcher Dispatcher
	fetcher    Fetcher
	surface    display.Surface
	logger     zerolog.Logger

	events  chan event
	done    chan struct{}
	workers sync.WaitGroup

	// Owned by the Run goroutine.
	ctx       context.Context
	record    storage.Record
	machine   *limit.Machine
	tracker   *usage.Tracker
	countdown *scheduler.Countdown
	poller    *scheduler.Poller
	oneshot   *scheduler.Oneshot
	session   *display.Window
	weekly    *display.Window
	fetchErr  string
	warning   string
}

// New creates a monitor. Run starts it.
func New(cfg Config, deps Deps) *Monitor {
	if cfg.Mode == "" {
		cfg.Mode = config.ModeCountdown
	}
	if cfg.Window <= 0 {
		cfg.Window = limit.DefaultWindow
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Second
	}
	if deps.Clock == nil {
		deps.Clock = quartz.NewReal()
	}
	if deps.Surface == nil {
		deps.Surface = display.Multi{}
	}

	return &Monitor{
		cfg:        cfg,
		clock:      deps.Clock,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		fetcher:    deps.Fetcher,
		surface:    deps.Surface,
		logger:     deps.Logger.With().Str("component", "monitor").Logger(),
		events:     make(chan event, 64),
		done:       make(chan struct{}),
	}
}

// LimitReached signals that the usage limit was hit.
func (m *Monitor) LimitReached() error { return m.send(event{kind: evLimit}) }

// Clear signals that the user has dismissed the current limit.
func (m *Monitor) Clear() error { return m.send(event{kind: evClear}) }

// Refresh asks for an immediate re-evaluation, or a fetch in poll mode.
func (m *Monitor) Refresh() error { return m.send(event{kind: evRefresh}) }

// Snapshot returns the current state as seen by the monitor goroutine.
func (m *Monitor) Snapshot(ctx context.Context) (display.Snapshot, error) {
	reply := make(chan display.Snapshot, 1)
	if err := m.send(event{kind: evSnapshot, reply: reply}); err != nil {
		return display.Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return display.Snapshot{}, ctx.Err()
	case <-m.done:
		return display.Snapshot{}, ErrStopped
	}
}

func (m *Monitor) send(ev event) error {
	select {
	case <-m.done:
		return ErrStopped
	default:
	}

	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return ErrStopped
	}
}

// Run loads the persisted state, recovers, and processes events until ctx
// is cancelled. In-flight notifications are allowed to finish.
func (m *Monitor) Run(ctx context.Context) error {
	m.ctx = context.WithoutCancel(ctx)
	m.start(ctx)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

func (m *Monitor) start(ctx context.Context) {
	record, err := m.store.Load(m.ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		m.logger.Info().Msg("No saved state, starting fresh")
	case err != nil:
		m.logger.Warn().Err(err).Msg("Failed to load state, using defaults")
	default:
		m.record = *record
	}

	if m.cfg.ContactTarget != "" {
		m.record.ContactTarget = m.cfg.ContactTarget
	}

	m.machine = limit.New(&m.record, m.cfg.Window)
	m.tracker = usage.NewTracker(&m.record, usage.Config{
		HighWater:         m.cfg.HighWater,
		RolloverThreshold: m.cfg.RolloverThreshold,
	}, m.logger)
	m.oneshot = scheduler.NewOneshot(m.clock)

	var recovered limit.Decision
	switch m.cfg.Mode {
	case config.ModePoll:
		m.restoreWindows()
		m.poller = scheduler.NewPoller(m.clock, m.cfg.PollInterval, m.fetch, m.logger)
		m.workers.Add(1)
		go func() {
			defer m.workers.Done()
			m.poller.Run(ctx)
		}()
	default:
		recovered = m.machine.Recover(m.clock.Now())
		if m.machine.Status() == limit.StatusWaiting {
			m.startCountdown()
		}
	}

	m.persist()
	m.logger.Info().
		Str("mode", m.cfg.Mode).
		Str("status", m.status().String()).
		Msg("Monitor started")

	if recovered.Notify {
		m.logger.Info().Time("reset_at", recovered.ResetAt).Msg("Reset passed while offline")
		m.dispatch("recovery", recovered.Target)
	}
	m.render()
}

func (m *Monitor) shutdown() {
	close(m.done)
	m.stopCountdown()
	m.oneshot.Cancel()
	m.workers.Wait()
	m.logger.Info().Msg("Monitor stopped")
}

func (m *Monitor) handle(ev event) {
	m.logger.Debug().Stringer("event", ev.kind).Msg("Handling event")

	switch ev.kind {
	case evLimit:
		m.onLimit()
	case evClear:
		m.onClear()
	case evRefresh:
		m.onRefresh()
	case evCountdownTick:
		if m.countdown == nil || !m.countdown.ResetAt().Equal(ev.epoch) {
			return
		}
	case evCountdownExpired:
		m.onExpired(ev.epoch)
	case evFetchResult:
		m.onFetchResult(ev.result, ev.err)
	case evNotifyDue:
		m.onNotifyDue(ev.epoch)
	case evDispatchResult:
		m.onDispatchResult(ev.reason, ev.err)
	case evSnapshot:
		ev.reply <- m.snapshot()
		return
	}

	m.render()
}

func (m *Monitor) onLimit() {
	if m.cfg.Mode == config.ModePoll {
		if at, ok := m.tracker.ScheduleCurrent(); ok {
			m.logger.Info().Time("reset_at", at).Msg("Notification scheduled for current session window")
			m.oneshot.Schedule(at, m.notifyDue)
			return
		}
		m.poller.Trigger()
		return
	}

	m.stopCountdown()
	reset := m.machine.LimitReached(m.clock.Now())
	m.warning = ""
	m.persist()
	m.startCountdown()
	m.logger.Info().Time("reset_at", reset).Msg("Limit reached, countdown started")
}

func (m *Monitor) onClear() {
	m.warning = ""
	if m.cfg.Mode == config.ModePoll {
		m.tracker.Rearm()
		m.persist()
		m.logger.Info().Msg("Session notification re-armed")
		return
	}

	m.stopCountdown()
	m.machine.Clear()
	m.persist()
	m.logger.Info().Msg("Limit cleared")
}

func (m *Monitor) onRefresh() {
	if m.cfg.Mode == config.ModePoll {
		m.poller.Trigger()
		return
	}
	m.evaluate("countdown")
}

func (m *Monitor) onExpired(epoch time.Time) {
	if m.countdown == nil || !m.countdown.ResetAt().Equal(epoch) {
		return
	}
	m.countdown = nil
	m.evaluate("countdown")
}

func (m *Monitor) evaluate(reason string) {
	d := m.machine.Evaluate(m.clock.Now())
	if !d.Notify {
		return
	}
	m.stopCountdown()
	m.logger.Info().Time("reset_at", d.ResetAt).Msg("Usage window reset")
	// Persist the sent flag before the tool runs so a crash can never
	// produce a second notification for this reset.
	m.persist()
	m.dispatch(reason, d.Target)
}

func (m *Monitor) onFetchResult(result *fetcher.Result, err error) {
	if err != nil {
		m.fetchErr = fetcher.Describe(err)
		m.logger.Warn().Err(err).Str("status", m.fetchErr).Msg("Usage fetch failed")
		return
	}
	m.fetchErr = ""

	if result.OrgID != "" {
		m.record.OrgID = result.OrgID
	}
	m.session = toDisplayWindow(result.Usage.Session)
	m.weekly = toDisplayWindow(result.Usage.Weekly)
	if w := result.Usage.Session; w != nil {
		metrics.WindowUtilization.WithLabelValues("session").Set(w.Utilization)
	}
	if w := result.Usage.Weekly; w != nil {
		metrics.WindowUtilization.WithLabelValues("weekly").Set(w.Utilization)
	}

	out := m.tracker.Observe(result.Usage)
	if out.CancelPending {
		m.oneshot.Cancel()
	}
	if out.Schedule != nil {
		m.logger.Info().
			Time("reset_at", *out.Schedule).
			Float64("utilization", m.record.SessionPct).
			Msg("High-water mark reached, notification scheduled")
		m.oneshot.Schedule(*out.Schedule, m.notifyDue)
	}

	m.persist()

	if out.NotifyNow {
		m.logger.Info().Float64("utilization", m.record.SessionPct).Msg("Session window rolled over")
		m.dispatch("rollover", m.record.ContactTarget)
	}
}

func (m *Monitor) onNotifyDue(epoch time.Time) {
	if pending, ok := m.oneshot.Epoch(); ok && pending.Equal(epoch) {
		m.oneshot.Cancel()
	}
	if !m.tracker.Due(epoch) {
		m.logger.Debug().Time("epoch", epoch).Msg("Discarding stale scheduled notification")
		return
	}
	m.persist()
	m.dispatch("scheduled", m.record.ContactTarget)
}

func (m *Monitor) onDispatchResult(reason string, err error) {
	if err != nil {
		m.warning = notify.Describe(err)
		m.logger.Warn().Err(err).Str("reason", reason).Msg("Notification failed")
		return
	}
	m.warning = ""
}

// dispatch runs the notification on a worker goroutine and reports the
// outcome back as an event. It is never retried.
func (m *Monitor) dispatch(reason, target string) {
	metrics.NotificationsTriggered.WithLabelValues(reason).Inc()

	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		err := m.dispatcher.Notify(m.ctx, m.cfg.Message, target)
		_ = m.send(event{kind: evDispatchResult, reason: reason, err: err})
	}()
}

func (m *Monitor) fetch(ctx context.Context) {
	result, err := m.fetcher.Fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	_ = m.send(event{kind: evFetchResult, result: result, err: err})
}

func (m *Monitor) notifyDue(epoch time.Time) {
	_ = m.send(event{kind: evNotifyDue, epoch: epoch})
}

func (m *Monitor) startCountdown() {
	reset, ok := m.machine.ResetAt()
	if !ok {
		return
	}
	m.countdown = scheduler.StartCountdown(m.clock, reset, m.cfg.Tick,
		func(time.Duration) {
			_ = m.send(event{kind: evCountdownTick, epoch: reset})
		},
		func() {
			_ = m.send(event{kind: evCountdownExpired, epoch: reset})
		},
	)
}

func (m *Monitor) stopCountdown() {
	if m.countdown != nil {
		m.countdown.Stop()
		m.countdown = nil
	}
}

func (m *Monitor) persist() {
	if err := m.store.Save(m.ctx, m.record.Clone()); err != nil {
		metrics.StateSaveErrors.Inc()
		m.logger.Error().Err(err).Msg("Failed to save state")
	}
}

func (m *Monitor) status() limit.Status {
	if m.cfg.Mode == config.ModePoll {
		return m.tracker.Status()
	}
	return m.machine.Status()
}

func (m *Monitor) snapshot() display.Snapshot {
	now := m.clock.Now()
	s := display.Snapshot{
		Mode:          m.cfg.Mode,
		Status:        m.status().String(),
		ContactTarget: m.record.ContactTarget,
		Error:         m.fetchErr,
		Warning:       m.warning,
		UpdatedAt:     now,
	}

	if m.cfg.Mode == config.ModePoll {
		s.Remaining = m.tracker.Remaining(now)
		s.ResetAt = cloneTime(m.record.SessionResetAt)
		s.Session = cloneWindow(m.session)
		s.Weekly = cloneWindow(m.weekly)
	} else {
		s.Remaining = m.machine.Remaining(now)
		s.ResetAt = cloneTime(m.record.ResetAt)
	}
	s.RemainingText = limit.FormatRemaining(s.Remaining)
	return s
}

func (m *Monitor) render() {
	s := m.snapshot()
	metrics.SetStatus(s.Status, allStatuses...)
	metrics.CountdownRemaining.Set(s.Remaining.Seconds())
	m.surface.Render(s)
}

// restoreWindows rebuilds the displayed windows from the saved record
// until the first fetch completes.
func (m *Monitor) restoreWindows() {
	if m.record.SessionResetAt != nil {
		m.session = &display.Window{Utilization: m.record.SessionPct, ResetsAt: cloneTime(m.record.SessionResetAt)}
	}
	if m.record.WeeklyResetAt != nil {
		m.weekly = &display.Window{Utilization: m.record.WeeklyPct, ResetsAt: cloneTime(m.record.WeeklyResetAt)}
	}
}

func toDisplayWindow(w *usage.Window) *display.Window {
	if w == nil {
		return nil
	}
	return &display.Window{Utilization: w.Utilization, ResetsAt: cloneTime(w.ResetsAt)}
}

func cloneWindow(w *display.Window) *display.Window {
	if w == nil {
		return nil
	}
	out := *w
	out.ResetsAt = cloneTime(w.ResetsAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
