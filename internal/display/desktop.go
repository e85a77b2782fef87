package display

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

// Notifier posts a desktop notification.
type Notifier interface {
	Notify(summary, body, icon string) error
}

type message struct {
	summary string
	body    string
	icon    string
}

// Desktop raises desktop notifications when the status turns available
// and when a new warning or error appears. D-Bus calls happen on the
// Run goroutine so Render never blocks.
type Desktop struct {
	notifier Notifier
	queue    chan message
	logger   zerolog.Logger

	lastStatus  string
	lastWarning string
	lastError   string
}

// NewDesktop creates a desktop surface.
func NewDesktop(notifier Notifier, logger zerolog.Logger) *Desktop {
	return &Desktop{
		notifier: notifier,
		queue:    make(chan message, 8),
		logger:   logger.With().Str("component", "desktop").Logger(),
	}
}

// Render queues notifications for transitions in s.
func (d *Desktop) Render(s Snapshot) {
	if s.Status == "available" && d.lastStatus != "" && d.lastStatus != "available" {
		d.enqueue(message{
			summary: "Tokens available",
			body:    "Your usage window has reset.",
			icon:    "dialog-information",
		})
	}
	d.lastStatus = s.Status

	if s.Warning != "" && s.Warning != d.lastWarning {
		d.enqueue(message{summary: "quotawatch warning", body: s.Warning, icon: "dialog-warning"})
	}
	d.lastWarning = s.Warning

	if s.Error != "" && s.Error != d.lastError {
		d.enqueue(message{summary: "quotawatch error", body: s.Error, icon: "dialog-error"})
	}
	d.lastError = s.Error
}

func (d *Desktop) enqueue(m message) {
	select {
	case d.queue <- m:
	default:
		d.logger.Warn().Str("summary", m.summary).Msg("Desktop notification queue full, dropping")
	}
}

// Run delivers queued notifications until ctx is cancelled.
func (d *Desktop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-d.queue:
			if err := d.notifier.Notify(m.summary, m.body, m.icon); err != nil {
				d.logger.Warn().Err(err).Msg("Failed to send desktop notification")
			}
		}
	}
}

// DBusNotifier talks to org.freedesktop.Notifications on the session bus.
type DBusNotifier struct {
	conn *dbus.Conn
}

// ConnectDBus opens the session bus.
func ConnectDBus() (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return &DBusNotifier{conn: conn}, nil
}

// Notify sends one notification.
func (n *DBusNotifier) Notify(summary, body, icon string) error {
	obj := n.conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications")
	call := obj.Call("org.freedesktop.Notifications.Notify", 0,
		"quotawatch", // app_name
		uint32(0),    // replaces_id
		icon,
		summary,
		body,
		[]string{}, // actions
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(1)),
		},
		int32(10000), // expire_timeout
	)
	if call.Err != nil {
		return fmt.Errorf("failed to send notification: %w", call.Err)
	}
	return nil
}

// Close closes the bus connection.
func (n *DBusNotifier) Close() error {
	return n.conn.Close()
}
