package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storage "github.com/syntrixbase/stagehand/internal/core/storage/config"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, storage.BackendMongo, cfg.Storage.Backend)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Storage.Mongo.URI)
	assert.False(t, cfg.Cache.Enabled)
	assert.False(t, cfg.MQ.Enabled)
	assert.Equal(t, "stagehand", cfg.MQ.Prefix)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Shutdown.KillDelay)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfig_FileLayering(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yml", `
server:
  http_port: 9090
storage:
  backend: memory
cache:
  enabled: true
  ttl: 5s
mq:
  enabled: true
  backend: memory
pipeline:
  file: pipeline.yml
shutdown:
  kill_delay: 1m
`)
	writeConfig(t, dir, "config.local.yml", `
server:
  http_port: 9191
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.HTTPPort, "local file overrides main file")
	assert.Equal(t, storage.BackendMemory, cfg.Storage.Backend)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Cache.TTL)
	assert.True(t, cfg.MQ.Enabled)
	assert.Equal(t, "memory", cfg.MQ.Backend)
	assert.Equal(t, filepath.Join(dir, "pipeline.yml"), cfg.Pipeline.File)
	assert.Equal(t, time.Minute, cfg.Shutdown.KillDelay)
	assert.Equal(t, "localhost", cfg.Server.Host, "unset fields keep defaults")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("STAGEHAND_MONGO_URI", "mongodb://env:27017")
	t.Setenv("STAGEHAND_HTTP_PORT", "7070")
	t.Setenv("STAGEHAND_NATS_URL", "nats://env:4222")
	t.Setenv("STAGEHAND_CACHE_ENABLED", "true")

	dir := t.TempDir()
	writeConfig(t, dir, "config.yml", "server:\n  http_port: 9090\n")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "mongodb://env:27017", cfg.Storage.Mongo.URI)
	assert.Equal(t, 7070, cfg.Server.HTTPPort, "env overrides files")
	assert.Equal(t, "nats://env:4222", cfg.MQ.URL)
	assert.True(t, cfg.Cache.Enabled)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "config.local.yml", "not: [valid")
		_, err := LoadConfig(dir)
		assert.ErrorContains(t, err, "failed to parse")
	})

	t.Run("unreadable file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.Mkdir(filepath.Join(dir, "config.yml"), 0o755))
		_, err := LoadConfig(dir)
		assert.ErrorContains(t, err, "failed to read")
	})

	t.Run("invalid section", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "config.yml", "storage:\n  backend: cassandra\n")
		_, err := LoadConfig(dir)
		assert.ErrorContains(t, err, "configuration error")
		assert.ErrorContains(t, err, "cassandra")
	})
}
