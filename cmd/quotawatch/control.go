package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/quotawatch/internal/config"
	"github.com/goodtune/quotawatch/internal/display"
	"github.com/spf13/cobra"
)

var controlAddr string

var limitCmd = &cobra.Command{
	Use:   "limit",
	Short: "Report that the usage limit was reached",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), "limit")
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Dismiss the current limit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), "clear")
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-evaluate the state now (fetches usage in poll mode)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(cmd.Context(), "refresh")
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the running daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newControlClient()
		if err != nil {
			return err
		}
		snap, err := client.Status(commandContext(cmd.Context()))
		if err != nil {
			return err
		}
		printStatus(os.Stdout, snap)
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{limitCmd, clearCmd, refreshCmd, statusCmd} {
		cmd.Flags().StringVar(&controlAddr, "addr", "", "Control API address (defaults to control.listen)")
		rootCmd.AddCommand(cmd)
	}
}

func runAction(ctx context.Context, action string) error {
	client, err := newControlClient()
	if err != nil {
		return err
	}
	if err := client.Post(commandContext(ctx), action); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s: accepted\n", action)
	return nil
}

func commandContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func newControlClient() (*controlClient, error) {
	addr := controlAddr
	if addr == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		addr = cfg.Control.Listen
	}
	return newClient(addr), nil
}

// controlClient talks to the daemon's control API.
type controlClient struct {
	base string
	http *http.Client
}

func newClient(addr string) *controlClient {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &controlClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

// Post triggers a monitor action.
func (c *controlClient) Post(ctx context.Context, action string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/"+action, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("control API unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return decodeError(resp)
	}
	return nil
}

// Status fetches the latest snapshot.
func (c *controlClient) Status(ctx context.Context) (display.Snapshot, error) {
	var snap display.Snapshot

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/status", nil)
	if err != nil {
		return snap, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return snap, fmt.Errorf("control API unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("failed to decode status: %w", err)
	}
	return snap, nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return fmt.Errorf("control API: %s (%d)", e.Message, resp.StatusCode)
	}
	return fmt.Errorf("control API: unexpected status %d", resp.StatusCode)
}

// printStatus renders a snapshot for humans.
func printStatus(w io.Writer, snap display.Snapshot) {
	cyan := color.New(color.FgCyan, color.Bold)
	statusColor := color.New(color.FgGreen, color.Bold)
	if snap.Status == "waiting" {
		statusColor = color.New(color.FgRed, color.Bold)
	}
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Fprintf(w, "[%s]\n", snap.Mode)
	fmt.Fprint(w, "  status    = ")
	_, _ = statusColor.Fprintln(w, snap.Status)
	if snap.RemainingText != "" {
		fmt.Fprintf(w, "  remaining = %s\n", snap.RemainingText)
	}
	if snap.ResetAt != nil {
		fmt.Fprintf(w, "  reset_at  = %s\n", snap.ResetAt.Local().Format(time.DateTime))
	}
	printWindow(w, "session", snap.Session)
	printWindow(w, "weekly", snap.Weekly)
	if snap.ContactTarget != "" {
		fmt.Fprintf(w, "  target    = %s\n", snap.ContactTarget)
	}
	if snap.Warning != "" {
		_, _ = yellow.Fprintf(w, "  warning   = %s\n", snap.Warning)
	}
	if snap.Error != "" {
		_, _ = yellow.Fprintf(w, "  error     = %s\n", snap.Error)
	}
}

func printWindow(w io.Writer, name string, win *display.Window) {
	if win == nil {
		return
	}
	line := fmt.Sprintf("  %-9s = %.0f%%", name, win.Utilization)
	if win.ResetsAt != nil {
		line += " (resets " + win.ResetsAt.Local().Format(time.DateTime) + ")"
	}
	fmt.Fprintln(w, line)
}
