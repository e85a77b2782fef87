package main

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/quotawatch/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the quotawatch configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(os.Stdout, cfg, getDefaultConfig(), unknownKeys)
	}

	return nil
}

// getDefaultConfig creates a configuration with default values
func getDefaultConfig() *config.Config {
	v := viper.New()
	config.SetDefaults(v)

	var cfg config.Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := getValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// getValidKeys returns the set of configuration keys. Every key has a
// default, so the defaults are the schema.
func getValidKeys() map[string]bool {
	v := viper.New()
	config.SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(w io.Writer, cfg, defaultCfg *config.Config, unknownKeys []string) {
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	field := func(name string, value, defaultValue interface{}) {
		dumpField(w, name, value, defaultValue, yellow, green)
	}

	_, _ = cyan.Fprintln(w, "\n[general]")
	field("  mode", cfg.Mode, defaultCfg.Mode)

	_, _ = cyan.Fprintln(w, "\n[storage]")
	field("  type", cfg.Storage.Type, defaultCfg.Storage.Type)
	field("  path", cfg.Storage.Path, defaultCfg.Storage.Path)
	_, _ = cyan.Fprintln(w, "  [storage.redis]")
	field("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host)
	field("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port)
	field("    password", redactPassword(cfg.Storage.Redis.Password), redactPassword(defaultCfg.Storage.Redis.Password))
	field("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB)
	field("    key", cfg.Storage.Redis.Key, defaultCfg.Storage.Redis.Key)
	field("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout)
	field("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout)
	field("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout)

	_, _ = cyan.Fprintln(w, "\n[countdown]")
	field("  window", cfg.Countdown.Window, defaultCfg.Countdown.Window)
	field("  tick", cfg.Countdown.Tick, defaultCfg.Countdown.Tick)

	_, _ = cyan.Fprintln(w, "\n[poll]")
	field("  interval", cfg.Poll.Interval, defaultCfg.Poll.Interval)
	field("  high_water", cfg.Poll.HighWater, defaultCfg.Poll.HighWater)
	field("  rollover_threshold", cfg.Poll.RolloverThreshold, defaultCfg.Poll.RolloverThreshold)

	_, _ = cyan.Fprintln(w, "\n[notify]")
	field("  command", cfg.Notify.Command, defaultCfg.Notify.Command)
	field("  args", cfg.Notify.Args, defaultCfg.Notify.Args)
	field("  channel", cfg.Notify.Channel, defaultCfg.Notify.Channel)
	field("  target", cfg.Notify.Target, defaultCfg.Notify.Target)
	field("  message", cfg.Notify.Message, defaultCfg.Notify.Message)
	field("  timeout", cfg.Notify.Timeout, defaultCfg.Notify.Timeout)

	_, _ = cyan.Fprintln(w, "\n[fetcher]")
	field("  base_url", cfg.Fetcher.BaseURL, defaultCfg.Fetcher.BaseURL)
	field("  user_agent", cfg.Fetcher.UserAgent, defaultCfg.Fetcher.UserAgent)
	field("  timeout", cfg.Fetcher.Timeout, defaultCfg.Fetcher.Timeout)
	_, _ = cyan.Fprintln(w, "  [fetcher.cookies]")
	field("    source", cfg.Fetcher.Cookies.Source, defaultCfg.Fetcher.Cookies.Source)
	field("    command", cfg.Fetcher.Cookies.Command, defaultCfg.Fetcher.Cookies.Command)
	field("    file", cfg.Fetcher.Cookies.File, defaultCfg.Fetcher.Cookies.File)
	field("    value", redactPassword(cfg.Fetcher.Cookies.Value), redactPassword(defaultCfg.Fetcher.Cookies.Value))
	field("    domain", cfg.Fetcher.Cookies.Domain, defaultCfg.Fetcher.Cookies.Domain)

	_, _ = cyan.Fprintln(w, "\n[control]")
	field("  enabled", cfg.Control.Enabled, defaultCfg.Control.Enabled)
	field("  listen", cfg.Control.Listen, defaultCfg.Control.Listen)

	_, _ = cyan.Fprintln(w, "\n[metrics]")
	field("  enabled", cfg.Metrics.Enabled, defaultCfg.Metrics.Enabled)
	field("  listen", cfg.Metrics.Listen, defaultCfg.Metrics.Listen)

	_, _ = cyan.Fprintln(w, "\n[display]")
	field("  terminal", cfg.Display.Terminal, defaultCfg.Display.Terminal)
	field("  color", cfg.Display.Color, defaultCfg.Display.Color)
	field("  desktop", cfg.Display.Desktop, defaultCfg.Display.Desktop)

	_, _ = cyan.Fprintln(w, "\n[logging]")
	field("  level", cfg.Logging.Level, defaultCfg.Logging.Level)
	field("  format", cfg.Logging.Format, defaultCfg.Logging.Format)

	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Fprintln(w, "\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(w, "  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(w, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(w io.Writer, name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	valueStr := fmt.Sprintf("%v", value)

	if reflect.DeepEqual(value, defaultValue) {
		_, _ = defaultColor.Fprintf(w, "%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Fprintf(w, "%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactPassword redacts secrets if not empty
func redactPassword(password string) string {
	if password == "" {
		return ""
	}
	return "***REDACTED***"
}
