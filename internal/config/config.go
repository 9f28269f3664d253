// Package config loads fieldsync configuration with the precedence
// defaults → YAML file → environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. It is read-only after Load()
// returns and thread-safe for concurrent reads.
type Config struct {
	Device Device `yaml:"device"`
	Hub    Hub    `yaml:"hub"`
	Sync   Sync   `yaml:"sync"`
	Log    Log    `yaml:"log"`
	Auth   Auth   `yaml:"auth"`
}

// Device contains device-agent settings.
type Device struct {
	// ID identifies this device in sync metadata. Minted and persisted on
	// first start when empty.
	ID     string `yaml:"id"`
	DBPath string `yaml:"db_path"`
}

// Hub contains office-hub settings, used by both roles: the agent dials
// URL, the hub binds Port.
type Hub struct {
	URL             string   `yaml:"url"`
	Port            int      `yaml:"port"`
	DBPath          string   `yaml:"db_path"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Sync contains sync engine and connectivity monitor settings.
type Sync struct {
	Interval       Duration `yaml:"interval"`
	BatchSize      int      `yaml:"batch_size"`
	RetryBudget    int      `yaml:"retry_budget"`
	BackoffBase    Duration `yaml:"backoff_base"`
	BackoffCap     Duration `yaml:"backoff_cap"`
	CallRetries    int      `yaml:"call_retries"`
	RequestTimeout Duration `yaml:"request_timeout"`
	ProbeInterval  Duration `yaml:"probe_interval"`
}

// Log contains logging settings.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Auth contains the bearer token shared by agent and hub.
type Auth struct {
	Token string `yaml:"-"` // env-only, never in YAML
}

// Duration is a wrapper around time.Duration that supports YAML string
// parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env
// vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("FIELDSYNC_CONFIG_PATH", "config/fieldsync.yaml")

	// Missing file is not an error; defaults apply
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path. Used for testing
// and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Device: Device{
			DBPath: "data/fieldsync.db",
		},
		Hub: Hub{
			URL:             "http://localhost:8080",
			Port:            8080,
			DBPath:          "data/hub.db",
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Sync: Sync{
			Interval:       Duration(30 * time.Second),
			BatchSize:      100,
			RetryBudget:    8,
			BackoffBase:    Duration(2 * time.Second),
			BackoffCap:     Duration(10 * time.Minute),
			CallRetries:    2,
			RequestTimeout: Duration(30 * time.Second),
			ProbeInterval:  Duration(10 * time.Second),
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("FIELDSYNC_DEVICE_ID"); v != "" {
		cfg.Device.ID = v
	}
	if v := os.Getenv("FIELDSYNC_DB_PATH"); v != "" {
		cfg.Device.DBPath = v
	}

	// Hub
	if v := os.Getenv("FIELDSYNC_HUB_URL"); v != "" {
		cfg.Hub.URL = v
	}
	if v := os.Getenv("FIELDSYNC_HUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Hub.Port = port
		}
	}
	if v := os.Getenv("FIELDSYNC_HUB_DB_PATH"); v != "" {
		cfg.Hub.DBPath = v
	}
	if v := os.Getenv("FIELDSYNC_HUB_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Hub.ShutdownTimeout = Duration(d)
		}
	}

	// Sync
	if v := os.Getenv("FIELDSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("FIELDSYNC_SYNC_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.BatchSize = n
		}
	}
	if v := os.Getenv("FIELDSYNC_SYNC_RETRY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.RetryBudget = n
		}
	}
	if v := os.Getenv("FIELDSYNC_SYNC_BACKOFF_BASE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.BackoffBase = Duration(d)
		}
	}
	if v := os.Getenv("FIELDSYNC_SYNC_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.RequestTimeout = Duration(d)
		}
	}
	if v := os.Getenv("FIELDSYNC_PROBE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.ProbeInterval = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("FIELDSYNC_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FIELDSYNC_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Auth
	if v := os.Getenv("FIELDSYNC_API_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}
}

// validate checks that required configuration values are set. In dev mode
// (FIELDSYNC_DEV_MODE=true), token validation is skipped.
func (c *Config) validate() error {
	if os.Getenv("FIELDSYNC_DEV_MODE") == "true" {
		return nil
	}

	if c.Auth.Token == "" {
		return errors.New("FIELDSYNC_API_TOKEN is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
