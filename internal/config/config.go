// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hoangson/trading-runtime/internal/types"
	"gopkg.in/yaml.v3"
)

// Config represents the full runtime configuration.
type Config struct {
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Connector   ConnectorConfig   `yaml:"connector"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Feed        FeedConfig        `yaml:"feed"`
}

// RuntimeConfig holds control loop settings.
type RuntimeConfig struct {
	ControlIntervalSec   int `yaml:"control_interval_sec"`
	MarketTickMs         int `yaml:"market_tick_ms"`
	ShutdownTimeoutSec   int `yaml:"shutdown_timeout_sec"`
	BookReadyTimeoutSec  int `yaml:"book_ready_timeout_sec"`
	SessionRefreshSec    int `yaml:"session_refresh_sec"`
	MaxConcurrentRefresh int `yaml:"max_concurrent_refresh"`
}

// ConnectorConfig holds connector registry settings.
type ConnectorConfig struct {
	Exchanges []ExchangeConfig `yaml:"exchanges"`
}

// ExchangeConfig describes one exchange the registry may connect to.
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Kind       string `yaml:"kind"` // spot | perpetual
	Paper      bool   `yaml:"paper"`
	RESTHost   string `yaml:"rest_host"`
	WSHost     string `yaml:"ws_host"`
	RatePerSec int    `yaml:"rate_per_sec"`
}

// CredentialsConfig holds credential store settings.
type CredentialsConfig struct {
	Path string `yaml:"path"`
}

// PersistenceConfig holds persistence settings.
type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Type    string `yaml:"type"` // sqlite
	Path    string `yaml:"path"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Channels []string `yaml:"channels"` // console
	Events   []string `yaml:"events"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// FeedConfig holds market data feed settings.
type FeedConfig struct {
	DepthLevels       int `yaml:"depth_levels"`
	UpdateIntervalMs  int `yaml:"update_interval_ms"`
	ReconnectDelaySec int `yaml:"reconnect_delay_sec"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Runtime.ControlIntervalSec <= 0 {
		c.Runtime.ControlIntervalSec = 1
	}
	if c.Runtime.MarketTickMs <= 0 {
		c.Runtime.MarketTickMs = 1000
	}
	if c.Runtime.ShutdownTimeoutSec <= 0 {
		c.Runtime.ShutdownTimeoutSec = 15
	}
	if c.Runtime.BookReadyTimeoutSec <= 0 {
		c.Runtime.BookReadyTimeoutSec = 20
	}
	if c.Runtime.SessionRefreshSec <= 0 {
		c.Runtime.SessionRefreshSec = 30
	}
	if c.Runtime.MaxConcurrentRefresh <= 0 {
		c.Runtime.MaxConcurrentRefresh = 4
	}
	if c.Feed.DepthLevels <= 0 {
		c.Feed.DepthLevels = 20
	}
	if c.Feed.UpdateIntervalMs <= 0 {
		c.Feed.UpdateIntervalMs = 100
	}
	if c.Feed.ReconnectDelaySec <= 0 {
		c.Feed.ReconnectDelaySec = 5
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9191
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if len(c.Connector.Exchanges) == 0 {
		errs = append(errs, "connector.exchanges must list at least one exchange")
	}
	seen := make(map[string]bool)
	for i, ex := range c.Connector.Exchanges {
		if ex.Name == "" {
			errs = append(errs, fmt.Sprintf("connector.exchanges[%d].name is required", i))
			continue
		}
		if seen[ex.Name] {
			errs = append(errs, fmt.Sprintf("connector.exchanges: duplicate name '%s'", ex.Name))
		}
		seen[ex.Name] = true
		if ex.Kind != "spot" && ex.Kind != "perpetual" {
			errs = append(errs, fmt.Sprintf("connector.exchanges[%d].kind must be 'spot' or 'perpetual'", i))
		}
	}

	if c.Persistence.Enabled {
		if c.Persistence.Type != "sqlite" {
			errs = append(errs, "persistence.type must be 'sqlite'")
		}
		if c.Persistence.Path == "" {
			errs = append(errs, "persistence.path is required for sqlite")
		}
	}

	if c.Alerting.Enabled {
		for _, ch := range c.Alerting.Channels {
			if ch != "console" {
				errs = append(errs, fmt.Sprintf("alerting.channels: unsupported channel '%s'", ch))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrConfigInvalid, strings.Join(errs, "; "))
	}

	return nil
}

// Exchange returns the exchange config by name.
func (c *Config) Exchange(name string) (ExchangeConfig, bool) {
	for _, ex := range c.Connector.Exchanges {
		if ex.Name == name {
			return ex, true
		}
	}
	return ExchangeConfig{}, false
}

// ControlInterval returns the executor control loop interval.
func (c *Config) ControlInterval() time.Duration {
	return time.Duration(c.Runtime.ControlIntervalSec) * time.Second
}

// MarketTick returns the executor market tick interval.
func (c *Config) MarketTick() time.Duration {
	return time.Duration(c.Runtime.MarketTickMs) * time.Millisecond
}

// ShutdownTimeout returns the shutdown timeout duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Runtime.ShutdownTimeoutSec) * time.Second
}

// BookReadyTimeout returns the default order book readiness deadline.
func (c *Config) BookReadyTimeout() time.Duration {
	return time.Duration(c.Runtime.BookReadyTimeoutSec) * time.Second
}

// SessionRefreshInterval returns the session state refresh cadence.
func (c *Config) SessionRefreshInterval() time.Duration {
	return time.Duration(c.Runtime.SessionRefreshSec) * time.Second
}

// FeedReconnectDelay returns the feed reconnect backoff.
func (c *Config) FeedReconnectDelay() time.Duration {
	return time.Duration(c.Feed.ReconnectDelaySec) * time.Second
}

// IsAlertEventEnabled checks if an alert event type is enabled.
func (c *Config) IsAlertEventEnabled(event string) bool {
	if !c.Alerting.Enabled {
		return false
	}
	if len(c.Alerting.Events) == 0 {
		return true
	}
	for _, e := range c.Alerting.Events {
		if e == event || e == "all" {
			return true
		}
	}
	return false
}
