// Package config handles configuration loading and management for Parley.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, or error.
	Level string
	// File is an optional path for rotated file logging in addition to
	// stderr.
	File string
	// JSON selects JSON log output instead of text.
	JSON bool
	// Components restricts debug logging to the named components. Empty
	// means all components.
	Components []string
}

// ServerConfig describes the backend the client talks to.
type ServerConfig struct {
	// BaseURL is the HTTP base URL of the backend, e.g. http://localhost:8080.
	// WebSocket URLs are derived from it.
	BaseURL string
	// APIPrefix is the REST path prefix (default: /api).
	APIPrefix string
}

// SessionConfig tunes session behavior.
type SessionConfig struct {
	// ReconnectDelay is the fixed pause between reconnection attempts.
	ReconnectDelay time.Duration
	// PingPeriod is the interval between keepalive pings. Zero uses the
	// built-in default; negative disables pings.
	PingPeriod time.Duration
	// ModelID is the default inference model, 0 lets the server choose.
	ModelID int64
}

// Config represents the complete Parley configuration.
type Config struct {
	Server  ServerConfig
	Session SessionConfig
	Logging LoggingConfig
}

// rawConfig is used for YAML unmarshaling.
type rawConfig struct {
	Server struct {
		BaseURL   string `yaml:"base_url"`
		APIPrefix string `yaml:"api_prefix"`
	} `yaml:"server"`
	Session struct {
		ReconnectDelaySeconds int   `yaml:"reconnect_delay_seconds"`
		PingPeriodSeconds     int   `yaml:"ping_period_seconds"`
		ModelID               int64 `yaml:"model_id"`
	} `yaml:"session"`
	Logging struct {
		Level      string   `yaml:"level"`
		File       string   `yaml:"file"`
		JSON       bool     `yaml:"json"`
		Components []string `yaml:"components"`
	} `yaml:"logging"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:   "http://localhost:8080",
			APIPrefix: "/api",
		},
		Session: SessionConfig{
			ReconnectDelay: 3 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns the default configuration file path for the
// current platform.
func DefaultConfigPath() string {
	// Check for environment variable override first
	if envPath := os.Getenv("PARLEYRC"); envPath != "" {
		return envPath
	}

	var configDir string
	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, _ := os.UserHomeDir()
		configDir = home
	default: // linux and others
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = xdgConfig
		} else {
			home, _ := os.UserHomeDir()
			configDir = home
		}
	}

	return filepath.Join(configDir, ".parleyrc")
}

// Load reads and parses the configuration file from the given path. A
// missing file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data into a Config struct. Unset fields
// take their default values.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()
	if raw.Server.BaseURL != "" {
		cfg.Server.BaseURL = raw.Server.BaseURL
	}
	if raw.Server.APIPrefix != "" {
		cfg.Server.APIPrefix = raw.Server.APIPrefix
	}
	if raw.Session.ReconnectDelaySeconds > 0 {
		cfg.Session.ReconnectDelay = time.Duration(raw.Session.ReconnectDelaySeconds) * time.Second
	}
	if raw.Session.PingPeriodSeconds != 0 {
		cfg.Session.PingPeriod = time.Duration(raw.Session.PingPeriodSeconds) * time.Second
	}
	cfg.Session.ModelID = raw.Session.ModelID
	if raw.Logging.Level != "" {
		cfg.Logging.Level = raw.Logging.Level
	}
	cfg.Logging.File = raw.Logging.File
	cfg.Logging.JSON = raw.Logging.JSON
	cfg.Logging.Components = raw.Logging.Components

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid server base_url %q: %w", c.Server.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server base_url must use http or https, got %q", c.Server.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("server base_url %q has no host", c.Server.BaseURL)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.Session.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect delay must be positive, got %s", c.Session.ReconnectDelay)
	}

	return nil
}
