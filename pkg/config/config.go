// Package config provides configuration for the docbind CLI and
// daemon. Settings load from environment variables and are overridden
// by command-line flags, with defaults suitable for a local
// single-node setup.
//
// Environment Variables:
//
//   - DOCBIND_LISTEN: address the serve command listens on
//   - DOCBIND_SERVER: websocket URL client commands connect to
//   - DOCBIND_KEY_NAME: field name carrying document identity in
//     normalized output
//   - DOCBIND_SEED: path to a JSON seed file loaded at serve startup
//   - DOCBIND_VERBOSE: enable debug logging
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all settings for docbind commands.
type Config struct {
	// Listen is the serve command's bind address.
	Listen string `env:"DOCBIND_LISTEN"`

	// Server is the websocket URL the client commands dial.
	Server string `env:"DOCBIND_SERVER"`

	// KeyName is the identity field name for normalized documents.
	KeyName string `env:"DOCBIND_KEY_NAME"`

	// Seed is an optional JSON file of collections preloaded by serve.
	Seed string `env:"DOCBIND_SEED"`

	// Verbose enables debug logging.
	Verbose bool `env:"DOCBIND_VERBOSE"`
}

// New returns a config with defaults applied.
func New() *Config {
	return &Config{
		Listen:  ":9790",
		Server:  "ws://127.0.0.1:9790/v1/stream",
		KeyName: "id",
	}
}

// Load returns the defaults overridden by environment variables.
func Load() (*Config, error) {
	cfg := New()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Server == "" {
		return fmt.Errorf("server URL is required")
	}
	if !strings.HasPrefix(c.Server, "ws://") && !strings.HasPrefix(c.Server, "wss://") {
		return fmt.Errorf("server URL must be ws:// or wss://, got %q", c.Server)
	}
	if c.KeyName == "" {
		return fmt.Errorf("key name is required")
	}
	return nil
}

// String returns the config for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Listen: %s, Server: %s, KeyName: %s, Seed: %s, Verbose: %v}",
		c.Listen, c.Server, c.KeyName, c.Seed, c.Verbose,
	)
}
