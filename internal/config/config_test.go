package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir переносит тест в пустую директорию, чтобы не подхватить .env и config/ репозитория.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("APP_ENV", "production")
	t.Setenv("CONFIG_PATH", "")
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)
	cfg := Load()

	assert.Equal(t, "127.0.0.1:8090", cfg.ServerAddr)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.True(t, cfg.DiscoverShotRooms)
	assert.False(t, cfg.Push.Enabled)
	assert.GreaterOrEqual(t, cfg.TickTimeout, cfg.RequestTimeout)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := inTempDir(t)
	yamlPath := filepath.Join(dir, "sync.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
api_base_url: http://backend:5000/
username: alice
poll_interval_ms: 500
request_timeout_ms: 3000
tick_timeout_ms: 1000
storage:
  driver: redis
push:
  enabled: true
`), 0o600))
	t.Setenv("CONFIG_PATH", yamlPath)
	t.Setenv("POLL_INTERVAL_MS", "750")
	t.Setenv("CHAT_USERNAME", " bob ")

	cfg := Load()
	assert.Equal(t, "http://backend:5000", cfg.APIBaseURL)
	assert.Equal(t, "bob", cfg.Username)
	assert.Equal(t, 750*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3*time.Second, cfg.TickTimeout, "тик не короче запроса")
	assert.Equal(t, StorageRedis, cfg.Storage.Driver)
	assert.True(t, cfg.Push.Enabled)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	inTempDir(t)
	t.Setenv("STORAGE_DRIVER", "mongo")
	t.Setenv("POLL_INTERVAL_MS", "abc")
	t.Setenv("DISCOVER_SHOT_ROOMS", "nope")
	t.Setenv("DB_MAX_CONNECTIONS", "-1")

	cfg := Load()
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.True(t, cfg.DiscoverShotRooms)
	assert.Equal(t, 4, cfg.Storage.MaxConnections)
}

func TestLocation(t *testing.T) {
	cfg := &Config{DisplayTimezone: "UTC"}
	assert.Equal(t, time.UTC, cfg.Location())

	cfg.DisplayTimezone = "Mars/Olympus"
	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location()).Zone()
	assert.Equal(t, 9*60*60, offset)
}
