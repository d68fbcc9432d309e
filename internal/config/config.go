// Package config handles push client configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/cobalt-oss/autopush-client/internal/pushmanager"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/pushclient/config.yaml, /config/config.yaml,
// /etc/pushclient/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pushclient", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/pushclient/config.yaml")
	return paths
}

// searchPathsFunc is indirected so tests can override the search order
// without touching the developer/deploy machine's real config files.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all push client configuration.
type Config struct {
	AutopushURL      string `yaml:"autopush_url"`
	AckIntervalMs    int    `yaml:"ack_interval_ms"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	StoragePath      string `yaml:"storage_path"`
	LogLevel         string `yaml:"log_level"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}). This is a
	// convenience for container deployments; the recommended approach
	// is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.AutopushURL == "" {
		c.AutopushURL = pushmanager.DefaultAutopushURL
	}
	if c.AckIntervalMs == 0 {
		c.AckIntervalMs = 30000
	}
	if c.ReconnectDelayMs == 0 {
		c.ReconnectDelayMs = 1000
	}
	if c.StoragePath == "" {
		c.StoragePath = "./data/pushclient.db"
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.AckIntervalMs < 1 {
		return fmt.Errorf("ack_interval_ms %d must be positive", c.AckIntervalMs)
	}
	if c.ReconnectDelayMs < 1 {
		return fmt.Errorf("reconnect_delay_ms %d must be positive", c.ReconnectDelayMs)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// PushManagerOptions projects this configuration onto the options
// [pushmanager.Create] accepts.
func (c *Config) PushManagerOptions() *pushmanager.Options {
	return &pushmanager.Options{
		AutopushURL:      c.AutopushURL,
		AckIntervalMs:    c.AckIntervalMs,
		ReconnectDelayMs: c.ReconnectDelayMs,
	}
}

// Default returns a default configuration suitable for local
// development against the production Mozilla Autopush service. All
// defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
