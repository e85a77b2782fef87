package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/quotawatch/internal/api"
	"github.com/goodtune/quotawatch/internal/config"
	"github.com/goodtune/quotawatch/internal/display"
	"github.com/goodtune/quotawatch/internal/fetcher"
	"github.com/goodtune/quotawatch/internal/limit"
	"github.com/goodtune/quotawatch/internal/metrics"
	"github.com/goodtune/quotawatch/internal/monitor"
	"github.com/goodtune/quotawatch/internal/notify"
	"github.com/goodtune/quotawatch/internal/scheduler"
	"github.com/goodtune/quotawatch/internal/storage"
	"github.com/goodtune/quotawatch/internal/storage/bolt"
	"github.com/goodtune/quotawatch/internal/storage/file"
	"github.com/goodtune/quotawatch/internal/storage/redis"
	"github.com/goodtune/quotawatch/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the quotawatch daemon",
	Long: `Start the monitor with its display surfaces, the local control API and,
when enabled, the metrics endpoint.

Signals: SIGINT/SIGTERM stop, SIGHUP refreshes, SIGUSR1 reports the limit as
reached and SIGUSR2 clears it.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Str("mode", cfg.Mode).
		Msg("Starting quotawatch")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return err
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatcher := notify.NewDispatcher(notify.Config{
		Command: cfg.Notify.Command,
		Args:    cfg.Notify.Args,
		Channel: cfg.Notify.Channel,
		Timeout: parseDuration(cfg.Notify.Timeout, notify.DefaultTimeout),
	}, logger)

	var usageFetcher monitor.Fetcher
	if cfg.Mode == config.ModePoll {
		client, err := newFetcher(ctx, cfg, store, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize fetcher: %w", err)
		}
		usageFetcher = client
	}

	recorder := display.NewRecorder()
	surfaces := display.Multi{recorder}
	if cfg.Display.Terminal {
		surfaces = append(surfaces, display.NewTerminal(os.Stdout, cfg.Display.Color))
	}

	var desktop *display.Desktop
	if cfg.Display.Desktop {
		notifier, err := display.ConnectDBus()
		if err != nil {
			logger.Warn().Err(err).Msg("Desktop notifications unavailable")
		} else {
			defer notifier.Close()
			desktop = display.NewDesktop(notifier, logger)
			surfaces = append(surfaces, desktop)
		}
	}

	mon := monitor.New(monitor.Config{
		Mode:              cfg.Mode,
		Window:            parseDuration(cfg.Countdown.Window, limit.DefaultWindow),
		Tick:              parseDuration(cfg.Countdown.Tick, time.Second),
		PollInterval:      parseDuration(cfg.Poll.Interval, scheduler.DefaultPollInterval),
		HighWater:         cfg.Poll.HighWater,
		RolloverThreshold: cfg.Poll.RolloverThreshold,
		Message:           cfg.Notify.Message,
		ContactTarget:     cfg.Notify.Target,
	}, monitor.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Fetcher:    usageFetcher,
		Surface:    surfaces,
		Logger:     logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx)
	})
	if desktop != nil {
		g.Go(func() error {
			desktop.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		systemd.RunWatchdog(gctx, logger)
		return nil
	})

	var apiServer *api.Server
	if cfg.Control.Enabled || sdListeners.Control != nil {
		apiServer = api.NewServer(cfg.Control.Listen, api.Deps{
			Controller: mon,
			Recorder:   recorder,
		}, logger)
		if sdListeners.Control != nil {
			apiServer.SetListener(sdListeners.Control)
		}
		if err := apiServer.Start(); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("failed to start control API: %w", err)
		}
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled || sdListeners.Metrics != nil {
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			logger.Error().Err(err).Msg("Failed to start metrics server")
		}
	}

	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}
	logger.Info().Msg("quotawatch startup complete")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigChan)

	for stop := false; !stop; {
		select {
		case <-gctx.Done():
			stop = true
		case sig := <-sigChan:
			stop = handleSignal(sig, mon, logger)
		}
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping control API")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info().Msg("quotawatch stopped")
	return nil
}

// signalTarget is the part of the monitor driven by process signals.
type signalTarget interface {
	LimitReached() error
	Clear() error
	Refresh() error
}

// handleSignal maps a signal onto a monitor action. It reports true when
// the daemon should shut down.
func handleSignal(sig os.Signal, target signalTarget, logger zerolog.Logger) bool {
	var err error
	switch sig {
	case syscall.SIGHUP:
		logger.Info().Msg("SIGHUP received, refreshing")
		err = target.Refresh()
	case syscall.SIGUSR1:
		logger.Info().Msg("SIGUSR1 received, limit reached")
		err = target.LimitReached()
	case syscall.SIGUSR2:
		logger.Info().Msg("SIGUSR2 received, clearing limit")
		err = target.Clear()
	default:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
		return true
	}

	if err != nil {
		logger.Error().Err(err).Str("signal", sig.String()).Msg("Failed to handle signal")
		return errors.Is(err, monitor.ErrStopped)
	}
	return false
}

func newFetcher(ctx context.Context, cfg *config.Config, store storage.Store, logger zerolog.Logger) (*fetcher.Client, error) {
	cookies, err := fetcher.NewCookieSource(cfg.Fetcher.Cookies)
	if err != nil {
		return nil, err
	}

	// Seed the organization id so restarts skip the lookup
	var orgID string
	if record, err := store.Load(ctx); err == nil {
		orgID = record.OrgID
	}

	return fetcher.New(fetcher.Config{
		BaseURL:   cfg.Fetcher.BaseURL,
		UserAgent: cfg.Fetcher.UserAgent,
		Timeout:   parseDuration(cfg.Fetcher.Timeout, 30*time.Second),
	}, cookies, orgID, logger), nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "file", "":
		return file.Open(cfg.Path)
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration. Logs go to
// stderr so they do not interleave with the terminal status line.
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
