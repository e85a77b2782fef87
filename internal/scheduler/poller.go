package scheduler

import (
	"context"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the period between remote usage fetches.
const DefaultPollInterval = 120 * time.Second

// Poller runs a fetch routine on a fixed interval and on demand. Fetches
// run sequentially on the poller goroutine, so they never overlap, and
// triggers that arrive while one is in flight collapse into one.
type Poller struct {
	clock    quartz.Clock
	interval time.Duration
	fetch    func(ctx context.Context)
	trigger  chan struct{}
	logger   zerolog.Logger
}

// NewPoller creates a poller. Run starts it.
func NewPoller(clock quartz.Clock, interval time.Duration, fetch func(ctx context.Context), logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		clock:    clock,
		interval: interval,
		fetch:    fetch,
		trigger:  make(chan struct{}, 1),
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Trigger requests an immediate fetch. It never blocks.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
		p.logger.Debug().Msg("Fetch already queued")
	}
}

// Run fetches once immediately, then on every interval and trigger until
// ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval, "Poller", "ticker")
	defer ticker.Stop("Poller", "stop")

	p.logger.Info().Dur("interval", p.interval).Msg("Usage poller started")
	defer p.logger.Info().Msg("Usage poller stopped")

	p.fetch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.trigger:
		}

		if ctx.Err() != nil {
			return
		}
		p.fetch(ctx)
	}
}
