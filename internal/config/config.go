package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "DRONESYNC"

// Config holds every tunable of the desktop app and the reconciliation engine.
type Config struct {
	LogLevel string         `mapstructure:"log-level"`
	Database DatabaseConfig `mapstructure:"database"`
	API      APIConfig      `mapstructure:"api"`
	Push     PushConfig     `mapstructure:"push"`
	Health   HealthConfig   `mapstructure:"health"`
	Polling  PollingConfig  `mapstructure:"polling"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Status   StatusConfig   `mapstructure:"status"`
}

// DatabaseConfig selects the local store. URL is sqlite://path or postgres://...
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max-open-conns"`
	MaxIdleConns    int           `mapstructure:"max-idle-conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn-max-lifetime"`
}

// APIConfig configures the REST collaborator.
type APIConfig struct {
	BaseURL    string        `mapstructure:"base-url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RetryCount int           `mapstructure:"retry-count"`
}

// PushConfig configures the websocket push channel.
type PushConfig struct {
	URL       string `mapstructure:"url"`
	Channel   string `mapstructure:"channel"`
	Event     string `mapstructure:"event"`
	Supersede string `mapstructure:"supersede"` // "always" or "newer-or-larger"
}

// HealthConfig configures the push channel health monitor.
type HealthConfig struct {
	Tick             time.Duration `mapstructure:"tick"`
	SilenceThreshold time.Duration `mapstructure:"silence-threshold"`
}

// PollingConfig holds the resync cadences.
type PollingConfig struct {
	Normal     time.Duration `mapstructure:"normal"`
	Aggressive time.Duration `mapstructure:"aggressive"`
}

// RelayConfig configures the background sync relay.
type RelayConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

// StatusConfig configures the optional local diagnostics endpoint.
// An empty Addr disables it.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// field: default value
var defaults = map[string]interface{}{
	"log-level":                  "INFO",
	"database.url":               "",
	"database.max-open-conns":    25,
	"database.max-idle-conns":    5,
	"database.conn-max-lifetime": 5 * time.Minute,
	"api.base-url":               "",
	"api.timeout":                30 * time.Second,
	"api.retry-count":            3,
	"push.url":                   "",
	"push.channel":               "detection-progress",
	"push.event":                 "progress.updated",
	"push.supersede":             "always",
	"health.tick":                30 * time.Second,
	"health.silence-threshold":   3 * time.Minute,
	"polling.normal":             5 * time.Minute,
	"polling.aggressive":         2 * time.Minute,
	"relay.interval":             time.Minute,
	"relay.concurrency":          4,
	"status.addr":                "",
}

// Load reads configuration from an optional JSON file and the environment.
// Environment variables take precedence over the file, e.g.
// DRONESYNC_POLLING_AGGRESSIVE=90s overrides polling.aggressive.
// When path is empty, $DRONESYNC_CONFIG and then <user config dir>/dronesync/config.json
// are tried; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := newViper()

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(envPrefix + "_CONFIG")
	}
	if path == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			path = filepath.Join(dir, "dronesync", "config.json")
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) && !isPathError(err) {
				return nil, fmt.Errorf("could not read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("could not unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration, ignoring files and environment.
func Default() *Config {
	var cfg Config
	if err := newViper().Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("invalid built-in config defaults: %v", err))
	}
	return &cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	return v
}

// Validate checks the cadences and thresholds the engine depends on.
func (c *Config) Validate() error {
	durations := map[string]time.Duration{
		"health.tick":              c.Health.Tick,
		"health.silence-threshold": c.Health.SilenceThreshold,
		"polling.normal":           c.Polling.Normal,
		"polling.aggressive":       c.Polling.Aggressive,
		"relay.interval":           c.Relay.Interval,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("invalid config field %s: must be a positive duration, got %v", key, d)
		}
	}

	switch c.Push.Supersede {
	case "always", "newer-or-larger":
	default:
		return fmt.Errorf("invalid config field push.supersede: %q", c.Push.Supersede)
	}

	if c.Relay.Concurrency <= 0 {
		c.Relay.Concurrency = 1
	}
	return nil
}

func isPathError(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}
