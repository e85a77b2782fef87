package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/goodtune/quotawatch/internal/config"
	"github.com/goodtune/quotawatch/internal/notify"
	"github.com/spf13/cobra"
)

var notifyTarget string

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test [message]",
	Short: "Send one message through the configured notification tool",
	Example: `  quotawatch notify-test
  quotawatch notify-test --target +15550100 "hello from quotawatch"`,
	Args: cobra.ArbitraryArgs,
	RunE: runNotifyTest,
}

func init() {
	notifyTestCmd.Flags().StringVar(&notifyTarget, "target", "", "Destination (defaults to notify.target)")
	rootCmd.AddCommand(notifyTestCmd)
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := setupLogger(cfg.Logging)

	target := notifyTarget
	if target == "" {
		target = cfg.Notify.Target
	}
	message := cfg.Notify.Message
	if len(args) > 0 {
		message = strings.Join(args, " ")
	}

	dispatcher := notify.NewDispatcher(notify.Config{
		Command: cfg.Notify.Command,
		Args:    cfg.Notify.Args,
		Channel: cfg.Notify.Channel,
		Timeout: parseDuration(cfg.Notify.Timeout, notify.DefaultTimeout),
	}, logger)

	if err := dispatcher.Notify(commandContext(cmd.Context()), message, target); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %s\n", notify.Describe(err))
		return err
	}

	fmt.Fprintf(os.Stdout, "✅ Notification sent to %s via %s\n", target, cfg.Notify.Channel)
	return nil
}

