// Package config loads calorie-log settings from YAML, .env and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"mcp-calorie-log/internal/storage"
)

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = "calorie-log.yaml"

// Config holds all calorie-log configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Confirm ConfirmConfig `yaml:"confirm"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP tool endpoint.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // json, sqlite
	Path   string `yaml:"path"`
}

// ConfirmConfig configures the reset confirmation wait.
type ConfirmConfig struct {
	Timeout string `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "calorie-log",
		Version: "1.0.0",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8011,
		},
		Storage: StorageConfig{
			Driver: storage.DriverJSON,
			Path:   "data/calorie_data.json",
		},
		Confirm: ConfirmConfig{
			Timeout: "30s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path (defaults when missing), then a .env file next to the
// working directory if present, then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML. An existing file is only
// replaced when overwrite is set.
func (c *Config) Save(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config %s already exists", path)
		}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CALORIE_LOG_DATA"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("CALORIE_LOG_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("CALORIE_LOG_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("CALORIE_LOG_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("CALORIE_LOG_CONFIRM_TIMEOUT"); v != "" {
		c.Confirm.Timeout = v
	}
	if v := os.Getenv("CALORIE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// ConfirmTimeout returns the confirmation wait as a duration.
func (c *Config) ConfirmTimeout() time.Duration {
	d, err := time.ParseDuration(c.Confirm.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case storage.DriverJSON, storage.DriverSQLite:
	default:
		return fmt.Errorf("invalid storage driver: %s (valid: %s, %s)", c.Storage.Driver, storage.DriverJSON, storage.DriverSQLite)
	}
	if c.Storage.Path == "" {
		return errors.New("storage path is empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if _, err := time.ParseDuration(c.Confirm.Timeout); err != nil {
		return fmt.Errorf("invalid confirm timeout %q: %w", c.Confirm.Timeout, err)
	}
	return nil
}
