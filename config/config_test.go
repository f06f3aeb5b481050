package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "loom", cfg.Runtime.Name)
	assert.Equal(t, 4, cfg.Runtime.Workers)
	assert.Equal(t, 10, cfg.Runtime.UpdateIntervalMS)
	assert.False(t, cfg.Log.JSON)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 0, cfg.TCP.IdleTimeoutSeconds)
	assert.Equal(t, 0, cfg.TCP.AcceptPerSecond)

	assert.Equal(t, 10*time.Millisecond, cfg.Runtime.UpdateInterval())
	assert.Equal(t, time.Duration(0), cfg.TCP.IdleTimeout())
}

func TestEnvOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Setenv("LOOM_RUNTIME_WORKERS", "8")
	t.Setenv("LOOM_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Runtime.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.toml")
	content := `
[runtime]
workers = 2
update_interval_ms = 25

[tcp]
idle_timeout_seconds = 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Runtime.Workers)
	assert.Equal(t, 25, cfg.Runtime.UpdateIntervalMS)
	assert.Equal(t, 30, cfg.TCP.IdleTimeoutSeconds)
	// Untouched keys keep their defaults
	assert.Equal(t, "loom", cfg.Runtime.Name)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.toml")

	require.NoError(t, WriteDefault(path))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Runtime.Workers)
	assert.Equal(t, "info", cfg.Log.Level)

	// Refuses to clobber an existing file
	assert.Error(t, WriteDefault(path))
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "loom.toml")
	require.NoError(t, WriteDefault(path))

	changed := make(chan *Config, 4)
	stop, err := Watch(path, zap.NewNop().Sugar(), func(cfg *Config) {
		changed <- cfg
	})
	require.NoError(t, err)
	t.Cleanup(stop)

	next := `
[log]
level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(next), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "debug", cfg.Log.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("config change was not observed")
	}
}
