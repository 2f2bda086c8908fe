package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, ":9790", cfg.Listen)
	assert.Equal(t, "ws://127.0.0.1:9790/v1/stream", cfg.Server)
	assert.Equal(t, "id", cfg.KeyName)
	assert.Empty(t, cfg.Seed)
	assert.False(t, cfg.Verbose)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DOCBIND_LISTEN", ":7000")
	t.Setenv("DOCBIND_SERVER", "wss://sync.example.com/v1/stream")
	t.Setenv("DOCBIND_KEY_NAME", ".key")
	t.Setenv("DOCBIND_SEED", "/tmp/seed.json")
	t.Setenv("DOCBIND_VERBOSE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "wss://sync.example.com/v1/stream", cfg.Server)
	assert.Equal(t, ".key", cfg.KeyName)
	assert.Equal(t, "/tmp/seed.json", cfg.Seed)
	assert.True(t, cfg.Verbose)
	assert.NoError(t, cfg.Validate())
}

func TestLoadPartialOverride(t *testing.T) {
	t.Setenv("DOCBIND_LISTEN", ":7000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "ws://127.0.0.1:9790/v1/stream", cfg.Server)
	assert.Equal(t, "id", cfg.KeyName)
}

func TestLoadInvalidBool(t *testing.T) {
	t.Setenv("DOCBIND_VERBOSE", "sometimes")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing listen", func(c *Config) { c.Listen = "" }, "listen address is required"},
		{"missing server", func(c *Config) { c.Server = "" }, "server URL is required"},
		{"http server URL", func(c *Config) { c.Server = "http://localhost:9790" }, "must be ws:// or wss://"},
		{"missing key name", func(c *Config) { c.KeyName = "" }, "key name is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestString(t *testing.T) {
	s := New().String()
	assert.Contains(t, s, ":9790")
	assert.Contains(t, s, "ws://127.0.0.1:9790/v1/stream")
}
