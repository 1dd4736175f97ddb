package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(filepath.Join(t.TempDir(), "nope.hcl"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadServerConfigMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.hcl")
	content := `
server {
  port = 9090
  seed = 1234
}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(1234), cfg.Server.Seed)
	assert.Equal(t, "localhost", cfg.Server.Address)
	assert.Equal(t, "raceroom.db", cfg.Server.DatabasePath)
	assert.Equal(t, "localhost:9090", cfg.GetServerAddress())
}

func TestServerConfigValidate(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultServerConfig()
	cfg.Server.LogLevel = "loud"
	assert.Error(t, cfg.Validate())
}

func TestErrorCodeFallback(t *testing.T) {
	assert.Equal(t, "command_failed", errorCode(os.ErrPermission))
}
