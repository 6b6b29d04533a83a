package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warmupd/pkg/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3002, cfg.HTTP.Port)
	assert.Equal(t, 100, cfg.Warmup.IntervalMin)
	assert.Equal(t, 800, cfg.Warmup.IntervalMax)
	assert.Equal(t, "cancel", cfg.Warmup.StopMode)
	assert.Equal(t, 3, cfg.Lifecycle.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Lifecycle.RetryDelay)
	assert.Equal(t, 120*time.Second, cfg.Lifecycle.PairingTTL)
	assert.Equal(t, "session_1", cfg.Lifecycle.InitialSession)
	assert.Equal(t, "memory", cfg.Messaging.Driver)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "port zero", mutate: func(c *Config) { c.HTTP.Port = 0 }},
		{name: "port too large", mutate: func(c *Config) { c.HTTP.Port = 70000 }},
		{name: "empty host", mutate: func(c *Config) { c.HTTP.Host = "" }},
		{name: "read timeout under ping", mutate: func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{name: "zero command rate", mutate: func(c *Config) { c.WebSocket.CommandRate = 0 }},
		{name: "empty database path", mutate: func(c *Config) { c.Database.Path = "" }},
		{name: "inverted interval", mutate: func(c *Config) { c.Warmup.IntervalMin = 900 }},
		{name: "zero interval", mutate: func(c *Config) { c.Warmup.IntervalMin = 0 }},
		{name: "interval above cap", mutate: func(c *Config) { c.Warmup.IntervalMax = types.MaxIntervalSeconds + 1 }},
		{name: "unknown stop mode", mutate: func(c *Config) { c.Warmup.StopMode = "pause" }},
		{name: "zero retries", mutate: func(c *Config) { c.Lifecycle.MaxRetries = 0 }},
		{name: "empty templates path", mutate: func(c *Config) { c.Templates.Path = "" }},
		{name: "empty driver", mutate: func(c *Config) { c.Messaging.Driver = "" }},
		{name: "unknown log level", mutate: func(c *Config) { c.Log.Level = "loud" }},
		{name: "missing section", mutate: func(c *Config) { c.Warmup = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("database disabled skips path", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Database.Enabled = false
		cfg.Database.Path = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	defaults := DefaultConfig()
	assert.Equal(t, defaults.HTTP, cfg.HTTP)
	assert.Equal(t, defaults.WebSocket, cfg.WebSocket)
	assert.Equal(t, defaults.Database, cfg.Database)
	assert.Equal(t, defaults.Lifecycle, cfg.Lifecycle)
	assert.Equal(t, defaults.Messaging, cfg.Messaging)
	assert.Equal(t, defaults.Warmup.IntervalMax, cfg.Warmup.IntervalMax)
	assert.Empty(t, cfg.Warmup.Replies)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("WARMUPD_HTTP_PORT", "9090")
	t.Setenv("WARMUPD_WARMUP_INTERVAL_MIN", "5")
	t.Setenv("WARMUPD_WARMUP_INTERVAL_MAX", "10")
	t.Setenv("WARMUPD_LIFECYCLE_RETRY_DELAY", "2s")
	t.Setenv("WARMUPD_WARMUP_STOP_MODE", "drain")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 5, cfg.Warmup.IntervalMin)
	assert.Equal(t, 10, cfg.Warmup.IntervalMax)
	assert.Equal(t, 2*time.Second, cfg.Lifecycle.RetryDelay)
	assert.Equal(t, "drain", cfg.Warmup.StopMode)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warmupd.yaml")
	content := `
http:
  port: 4000
warmup:
  interval_min: 30
  interval_max: 60
  seed: 42
  replies:
    - "ok"
    - "sure"
lifecycle:
  auto_provision: true
messaging:
  auto_pair: true
  scan_delay: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4000, cfg.HTTP.Port)
	assert.Equal(t, 30, cfg.Warmup.IntervalMin)
	assert.Equal(t, 60, cfg.Warmup.IntervalMax)
	assert.Equal(t, uint64(42), cfg.Warmup.Seed)
	assert.Equal(t, []string{"ok", "sure"}, cfg.Warmup.Replies)
	assert.True(t, cfg.Lifecycle.AutoProvision)
	assert.True(t, cfg.Messaging.AutoPair)
	assert.Equal(t, 3*time.Second, cfg.Messaging.ScanDelay)
	// untouched keys keep their defaults
	assert.Equal(t, "0.0.0.0", cfg.HTTP.Host)
	assert.Equal(t, 3, cfg.Lifecycle.MaxRetries)
}

func TestLoad_JSONFileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "warmupd.json"), []byte(`{"log":{"level":"debug"}}`), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing explicit file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("warmup:\n  interval_min: 10\n  interval_max: 5\n"), 0o644))

		_, err := Load(path)
		assert.Error(t, err)
	})
}
