package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Notification metrics
	NotificationsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotawatch_notifications_triggered_total",
			Help: "Notifications requested by the state machine",
		},
		[]string{"reason"},
	)

	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotawatch_notifications_sent_total",
			Help: "Notification tool invocations by result",
		},
		[]string{"result"},
	)

	// Fetch metrics
	FetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotawatch_fetches_total",
			Help: "Remote usage fetches by result",
		},
		[]string{"result"},
	)

	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quotawatch_fetch_duration_seconds",
			Help:    "Remote usage fetch duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Usage window metrics
	WindowUtilization = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotawatch_window_utilization_percent",
			Help: "Last observed utilization of a usage window",
		},
		[]string{"window"},
	)

	// Lifecycle metrics
	CountdownRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "quotawatch_countdown_remaining_seconds",
			Help: "Seconds until the current limit window resets",
		},
	)

	Status = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quotawatch_status",
			Help: "Current lifecycle status, 1 for the active label",
		},
		[]string{"status"},
	)

	StateSaveErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quotawatch_state_save_errors_total",
			Help: "Failed writes of the persisted state record",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		NotificationsTriggered,
		NotificationsSent,
		FetchesTotal,
		FetchDuration,
		WindowUtilization,
		CountdownRemaining,
		Status,
		StateSaveErrors,
	)
}

// SetStatus marks status as the current lifecycle status.
func SetStatus(status string, all ...string) {
	for _, s := range all {
		Status.WithLabelValues(s).Set(0)
	}
	Status.WithLabelValues(status).Set(1)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
