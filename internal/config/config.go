// Package config handles autocoder client configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the autocoder client.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Live     LiveConfig     `yaml:"live"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Control  ControlConfig  `yaml:"control"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig defines how to reach the autocoder backend.
type ServerConfig struct {
	URL            string        `yaml:"url"`
	AuthSecret     string        `yaml:"auth_secret"` // HS256 key; empty disables request signing
	ClientID       string        `yaml:"client_id"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LiveConfig defines the event stream subscription behavior.
type LiveConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
	Backoff      BackoffConfig `yaml:"backoff"`
}

// BackoffConfig defines exponential backoff parameters.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// SnapshotConfig defines background revalidation of the feature list.
type SnapshotConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"` // 0 disables background refresh
}

// ControlConfig defines agent command handling.
type ControlConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
}

// CacheConfig defines the local last-known-good snapshot cache and command journal.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Database string `yaml:"database"`
}

// LoggingConfig defines log output and error reporting.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	SentryDSN string `yaml:"sentry_dsn"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".local/share/autocoder")

	return &Config{
		Server: ServerConfig{
			URL:            "http://127.0.0.1:8888",
			ClientID:       "autocoder-cli",
			TokenTTL:       5 * time.Minute,
			RequestTimeout: 10 * time.Second,
		},
		Live: LiveConfig{
			PingInterval: 30 * time.Second,
			Backoff:      BackoffConfig{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2.0},
		},
		Snapshot: SnapshotConfig{
			RefreshInterval: 10 * time.Second,
		},
		Control: ControlConfig{
			CommandTimeout: 10 * time.Second,
			ConfirmTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:  true,
			Database: filepath.Join(dataDir, "cache.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "autocoder.log"),
		},
	}
}

// Load reads configuration from the default path or returns the defaults.
func Load() (*Config, error) {
	return LoadFile(DefaultConfigPath())
}

// LoadFile reads configuration from path. A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.expandEnvVars()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.expandEnvVars()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("AUTOCODER_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/autocoder/config.yaml")
}

// Validate checks values that would otherwise fail at runtime.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server.url must be an http(s) URL, got %q", c.Server.URL))
	}
	b := c.Live.Backoff
	if b.Initial <= 0 || b.Max < b.Initial {
		errs = append(errs, fmt.Errorf("live.backoff: need 0 < initial <= max, got %s/%s", b.Initial, b.Max))
	}
	if b.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("live.backoff.multiplier must be >= 1, got %v", b.Multiplier))
	}
	if c.Control.ConfirmTimeout <= 0 {
		errs = append(errs, errors.New("control.confirm_timeout must be positive"))
	}
	if c.Snapshot.RefreshInterval < 0 {
		errs = append(errs, errors.New("snapshot.refresh_interval must not be negative"))
	}

	return errors.Join(errs...)
}

func (c *Config) expandEnvVars() {
	c.Server.AuthSecret = os.ExpandEnv(c.Server.AuthSecret)
	c.Logging.SentryDSN = os.ExpandEnv(c.Logging.SentryDSN)
	if c.Server.AuthSecret == "" {
		c.Server.AuthSecret = os.Getenv("AUTOCODER_SECRET")
	}
	if c.Logging.SentryDSN == "" {
		c.Logging.SentryDSN = os.Getenv("AUTOCODER_SENTRY_DSN")
	}
}
