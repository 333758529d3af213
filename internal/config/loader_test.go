package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: info
  format: json
store:
  dsn: sqlite://from-file.db
timeout: 1m
http:
  timeout: 5s
`), 0o644))

	t.Setenv("SWFLOW_LOG_LEVEL", "debug")
	t.Setenv("SWFLOW_EXECUTIONS_DIR", "/var/lib/swflow")
	t.Setenv("SWFLOW_UNKNOWN", "ignored")

	cfg, err := Load(path, map[string]any{"store.dsn": "sqlite://from-flag.db"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "sqlite://from-flag.db", cfg.Store.DSN)
	assert.Equal(t, "/var/lib/swflow", cfg.ExecutionsDir)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
}

func TestLoadEnvDuration(t *testing.T) {
	t.Setenv("SWFLOW_TIMEOUT", "90s")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o644))
		_, err := Load(path, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config file")
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := Load("", map[string]any{"log.level": "trace"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})

	t.Run("invalid duration", func(t *testing.T) {
		_, err := Load("", map[string]any{"timeout": "soon"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal configuration")
	})
}
