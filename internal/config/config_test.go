package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"woodland-client/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.True(t, cfg.Realtime.Reconnect)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, "8090", cfg.Bridge.Port)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`server:
  baseURL: https://woodland.example
http:
  timeout: 3s
realtime:
  reconnect: false
journal:
  driver: none
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))
	t.Setenv("WOODLAND_BRIDGE_PORT", "9999")

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://woodland.example", cfg.Server.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.HTTP.Timeout)
	assert.False(t, cfg.Realtime.Reconnect)
	assert.Equal(t, "none", cfg.Journal.Driver)
	assert.Equal(t, "9999", cfg.Bridge.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
