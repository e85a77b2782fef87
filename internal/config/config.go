package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Modes supported by the monitor.
const (
	ModeCountdown = "countdown"
	ModePoll      = "poll"
)

// Config holds the complete application configuration
type Config struct {
	Mode      string          `mapstructure:"mode"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Countdown CountdownConfig `mapstructure:"countdown"`
	Poll      PollConfig      `mapstructure:"poll"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Control   ListenConfig    `mapstructure:"control"`
	Metrics   ListenConfig    `mapstructure:"metrics"`
	Display   DisplayConfig   `mapstructure:"display"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig defines where the state record is persisted
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "file", "bolt" or "redis"
	Path  string      `mapstructure:"path"` // file and bolt backends
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	Key          string `mapstructure:"key"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// CountdownConfig defines the fixed-window countdown mode
type CountdownConfig struct {
	Window string `mapstructure:"window"`
	Tick   string `mapstructure:"tick"`
}

// PollConfig defines the remote polling mode
type PollConfig struct {
	Interval          string  `mapstructure:"interval"`
	HighWater         float64 `mapstructure:"high_water"`
	RolloverThreshold float64 `mapstructure:"rollover_threshold"`
}

// NotifyConfig defines the external messaging tool invocation.
// Args may contain the placeholders {channel}, {target} and {message}.
type NotifyConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
	Channel string   `mapstructure:"channel"`
	Target  string   `mapstructure:"target"`
	Message string   `mapstructure:"message"`
	Timeout string   `mapstructure:"timeout"`
}

// FetcherConfig defines the remote usage API client
type FetcherConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   string        `mapstructure:"timeout"`
	Cookies   CookiesConfig `mapstructure:"cookies"`
}

// CookiesConfig defines where session cookies come from
type CookiesConfig struct {
	Source  string   `mapstructure:"source"` // "command", "file" or "static"
	Command []string `mapstructure:"command"`
	File    string   `mapstructure:"file"`
	Value   string   `mapstructure:"value"`
	Domain  string   `mapstructure:"domain"`
}

// ListenConfig defines an optional local HTTP listener
type ListenConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// DisplayConfig selects the display surfaces
type DisplayConfig struct {
	Terminal bool `mapstructure:"terminal"`
	Color    bool `mapstructure:"color"`
	Desktop  bool `mapstructure:"desktop"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "quotawatch", "config.yaml")
}

// DefaultStatePath returns state.json next to the running executable.
func DefaultStatePath() string {
	exe, err := os.Executable()
	if err != nil {
		return "state.json"
	}
	return filepath.Join(filepath.Dir(exe), "state.json")
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("QUOTAWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile surfaces a plain fs error rather than ConfigFileNotFoundError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	v.SetDefault("mode", ModeCountdown)

	// Storage defaults
	v.SetDefault("storage.type", "file")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key", "quotawatch:state")
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Countdown defaults
	v.SetDefault("countdown.window", "5h")
	v.SetDefault("countdown.tick", "1s")

	// Poll defaults
	v.SetDefault("poll.interval", "120s")
	v.SetDefault("poll.high_water", 95.0)
	v.SetDefault("poll.rollover_threshold", 10.0)

	// Notification defaults
	v.SetDefault("notify.command", "openclaw")
	v.SetDefault("notify.args", []string{
		"message", "send",
		"--channel", "{channel}",
		"--target", "{target}",
		"--message", "{message}",
	})
	v.SetDefault("notify.channel", "whatsapp")
	v.SetDefault("notify.target", "")
	v.SetDefault("notify.message", "Your Claude tokens are available again. You can resume your session.")
	v.SetDefault("notify.timeout", "30s")

	// Fetcher defaults
	v.SetDefault("fetcher.base_url", "https://claude.ai")
	v.SetDefault("fetcher.user_agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	v.SetDefault("fetcher.timeout", "30s")
	v.SetDefault("fetcher.cookies.source", "command")
	v.SetDefault("fetcher.cookies.command", []string{"quotawatch-cookies", "claude.ai"})
	v.SetDefault("fetcher.cookies.file", "")
	v.SetDefault("fetcher.cookies.value", "")
	v.SetDefault("fetcher.cookies.domain", "claude.ai")

	// Listener defaults
	v.SetDefault("control.enabled", true)
	v.SetDefault("control.listen", "127.0.0.1:7878")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9478")

	// Display defaults
	v.SetDefault("display.terminal", true)
	v.SetDefault("display.color", true)
	v.SetDefault("display.desktop", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// validate validates the configuration
func validate(cfg *Config) error {
	switch cfg.Mode {
	case ModeCountdown, ModePoll:
	default:
		return fmt.Errorf("invalid mode: %q (must be %q or %q)", cfg.Mode, ModeCountdown, ModePoll)
	}

	switch cfg.Storage.Type {
	case "file", "bolt", "redis":
	case "":
		cfg.Storage.Type = "file"
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	if cfg.Storage.Path == "" && cfg.Storage.Type != "redis" {
		cfg.Storage.Path = DefaultStatePath()
		if cfg.Storage.Type == "bolt" {
			cfg.Storage.Path = strings.TrimSuffix(cfg.Storage.Path, ".json") + ".bolt"
		}
	}

	if cfg.Notify.Command == "" {
		return fmt.Errorf("notify.command is required")
	}

	if cfg.Poll.HighWater <= 0 || cfg.Poll.HighWater > 100 {
		return fmt.Errorf("invalid poll.high_water: %v", cfg.Poll.HighWater)
	}
	if cfg.Poll.RolloverThreshold <= 0 || cfg.Poll.RolloverThreshold > 100 {
		return fmt.Errorf("invalid poll.rollover_threshold: %v", cfg.Poll.RolloverThreshold)
	}

	if cfg.Mode == ModePoll {
		switch cfg.Fetcher.Cookies.Source {
		case "command":
			if len(cfg.Fetcher.Cookies.Command) == 0 {
				return fmt.Errorf("fetcher.cookies.command is required for the command cookie source")
			}
		case "file":
			if cfg.Fetcher.Cookies.File == "" {
				return fmt.Errorf("fetcher.cookies.file is required for the file cookie source")
			}
		case "static":
		default:
			return fmt.Errorf("unsupported cookie source: %s", cfg.Fetcher.Cookies.Source)
		}
	}

	if cfg.Storage.Type != "redis" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	return nil
}
