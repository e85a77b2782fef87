package main

import (
	"fmt"
	"os"

	"github.com/goodtune/quotawatch/internal/config"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quotawatch",
	Short: "quotawatch - usage limit tracker and reset notifier",
	Long: `quotawatch tracks when a usage limit was hit, counts down to the moment
the token window resets, and sends a message through an external tool once
tokens are available again. In poll mode it reads the session and weekly
windows from the remote usage API instead of counting down locally.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default to the daemon when no subcommand is provided
		return runDaemon(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath(), "Path to configuration file")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
