package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/goodtune/quotawatch/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single invocation of the messaging tool.
const DefaultTimeout = 30 * time.Second

var (
	// ErrToolNotFound is returned when the messaging tool is not installed.
	ErrToolNotFound = errors.New("notification tool not found")

	// ErrTimeout is returned when the messaging tool does not finish in time.
	ErrTimeout = errors.New("notification tool timed out")

	// ErrNoTarget is returned when no destination has been configured.
	ErrNoTarget = errors.New("no notification target configured")
)

// ExitError reports a non-zero exit status from the messaging tool.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("notification tool exited with status %d", e.Code)
	}
	return fmt.Sprintf("notification tool exited with status %d: %s", e.Code, e.Stderr)
}

// Config describes how to invoke the messaging tool.
type Config struct {
	Command string
	Args    []string
	Channel string
	Timeout time.Duration
}

// Dispatcher sends notifications through an external command.
// Delivery is best-effort: failures are returned, never retried.
type Dispatcher struct {
	command string
	args    []string
	channel string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewDispatcher creates a dispatcher for the configured tool.
func NewDispatcher(cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Dispatcher{
		command: cfg.Command,
		args:    cfg.Args,
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		logger:  logger.With().Str("component", "notify").Logger(),
	}
}

// Notify runs the tool once with message and target substituted into its
// arguments. Success is a zero exit status.
func (d *Dispatcher) Notify(ctx context.Context, message, target string) error {
	if target == "" {
		return ErrNoTarget
	}

	path, err := exec.LookPath(d.command)
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("tool_not_found").Inc()
		return fmt.Errorf("%w: %s", ErrToolNotFound, d.command)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := expandArgs(d.args, strings.NewReplacer(
		"{channel}", d.channel,
		"{target}", target,
		"{message}", message,
	))

	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		metrics.NotificationsSent.WithLabelValues("timeout").Inc()
		return fmt.Errorf("%w after %s", ErrTimeout, d.timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			metrics.NotificationsSent.WithLabelValues("exit_error").Inc()
			return &ExitError{
				Code:   exitErr.ExitCode(),
				Stderr: strings.TrimSpace(stderr.String()),
			}
		}
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		return fmt.Errorf("run notification tool: %w", err)
	}

	metrics.NotificationsSent.WithLabelValues("sent").Inc()
	d.logger.Info().
		Str("target", target).
		Dur("duration", duration).
		Msg("Notification sent")
	return nil
}

func expandArgs(args []string, r *strings.Replacer) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = r.Replace(arg)
	}
	return out
}

// Describe returns a short user-facing string for a dispatch error.
func Describe(err error) string {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoTarget):
		return "No notification target set"
	case errors.Is(err, ErrToolNotFound):
		return "Notification tool not installed"
	case errors.Is(err, ErrTimeout):
		return "Notification timed out"
	case errors.As(err, &exitErr):
		return fmt.Sprintf("Notification failed (exit %d)", exitErr.Code)
	default:
		return "Notification failed"
	}
}
