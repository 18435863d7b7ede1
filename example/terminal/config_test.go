package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func Test_LoadConfig_ParsesFullConfiguration(t *testing.T) {
	// arrange
	path := writeConfigFile(t, `
backend:
  endpoint: "backend.example.org:6001"
  username: "terminal"
  password: "secret"
  enable_online_checks: true
  online_state:
    threshold: 3
    online_timeout: 20s
    offline_timeout: 5s
    ensure_online_check_timeout: 40s
storage:
  driver: badger
  path: /tmp/offline
reconciliation:
  queue_capacity: 64
  replay_attempts: 2
  replay_base_delay: 100ms
metrics:
  listen_address: ":9999"
`)

	// act
	cfg, err := LoadConfig(path)

	// assert
	require.NoError(t, err)

	backend := cfg.backendConfig()
	assert.Equal(t, "backend.example.org:6001", backend.Endpoint)
	assert.Equal(t, "terminal", backend.Username)
	assert.True(t, backend.EnableOnlineChecks)
	assert.Equal(t, 3, backend.OnlineState.Threshold)
	assert.Equal(t, 20*time.Second, backend.OnlineState.OnlineTimeout)
	assert.Equal(t, 5*time.Second, backend.OnlineState.OfflineTimeout)
	assert.Equal(t, 40*time.Second, backend.OnlineState.EnsureOnlineCheckTimeout)

	assert.Equal(t, 64, cfg.Reconciliation.QueueCapacity)
	assert.Equal(t, ":9999", cfg.Metrics.ListenAddress)
}

func Test_LoadConfig_AppliesDefaults(t *testing.T) {
	// arrange
	path := writeConfigFile(t, `
backend:
  endpoint: "backend.example.org:6001"
storage:
  path: /tmp/offline
`)

	// act
	cfg, err := LoadConfig(path)

	// assert
	require.NoError(t, err)
	assert.Equal(t, storageDriverBadger, cfg.Storage.Driver)
	assert.Equal(t, defaultMetricsAddress, cfg.Metrics.ListenAddress)
	assert.Equal(t, defaultQueueCapacity, cfg.Reconciliation.QueueCapacity)
}

func Test_LoadConfig_RequiresEndpointWhenChecksEnabled(t *testing.T) {
	// arrange
	path := writeConfigFile(t, `
backend:
  enable_online_checks: true
storage:
  driver: badger
  path: /tmp/offline
`)

	// act
	_, err := LoadConfig(path)

	// assert
	assert.ErrorContains(t, err, "backend.endpoint is required")
}

func Test_LoadConfig_RejectsUnknownStorageDriver(t *testing.T) {
	// arrange
	path := writeConfigFile(t, `
backend:
  endpoint: "backend.example.org:6001"
storage:
  driver: etcd
`)

	// act
	_, err := LoadConfig(path)

	// assert
	assert.ErrorContains(t, err, "storage.driver")
}

func Test_LoadConfig_RequiresDSNForPostgresDriver(t *testing.T) {
	// arrange
	path := writeConfigFile(t, `
backend:
  endpoint: "backend.example.org:6001"
storage:
  driver: postgres
`)

	// act
	_, err := LoadConfig(path)

	// assert
	assert.ErrorContains(t, err, "storage.postgres_dsn is required")
}

func Test_LoadConfig_RejectsMalformedDuration(t *testing.T) {
	// arrange
	path := writeConfigFile(t, `
backend:
  endpoint: "backend.example.org:6001"
  online_state:
    online_timeout: soon
storage:
  path: /tmp/offline
`)

	// act
	_, err := LoadConfig(path)

	// assert
	assert.ErrorContains(t, err, "parsing duration")
}

func Test_LoadConfig_MissingFileFails(t *testing.T) {
	// act
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))

	// assert
	assert.ErrorContains(t, err, "reading config file")
}
