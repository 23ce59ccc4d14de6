package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{"logging": {"level": "info"}}`), 0644))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(NewLoader(configPath), 20*time.Millisecond, func(cfg *Config) {
		changes <- cfg
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(configPath, []byte(`{"logging": {"level": "debug"}}`), 0644))

	select {
	case cfg := <-changes:
		assert.Equal(t, "debug", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestWatcher_IgnoresInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{}`), 0644))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(NewLoader(configPath), 20*time.Millisecond, func(cfg *Config) {
		changes <- cfg
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(configPath, []byte(`{"server": {"port": -1}}`), 0644))

	select {
	case <-changes:
		t.Fatal("invalid config must not be applied")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(configPath, []byte(`{}`), 0644))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(NewLoader(configPath), 20*time.Millisecond, func(cfg *Config) {
		changes <- cfg
	}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644))

	select {
	case <-changes:
		t.Fatal("unrelated file triggered a reload")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.json")

	w, err := NewWatcher(NewLoader(configPath), 0, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, w.Start())

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
