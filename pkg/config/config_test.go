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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "flocksync", cfg.Logging.Identifier)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)

	assert.True(t, cfg.Readiness.Enabled)
	assert.Equal(t, "app:readiness:status", cfg.Readiness.TagKey)
	assert.Equal(t, "ready", cfg.Readiness.TagValue)

	assert.Equal(t, "flocksync-declared", cfg.Store.DeclaredKey)
	assert.Equal(t, "flocksync-external", cfg.Store.OverrideKey)

	assert.False(t, cfg.Reconciliation.WhatIf)
	assert.Equal(t, 2, cfg.Reconciliation.MaxConcurrency)
	assert.Equal(t, 300, cfg.Reconciliation.IntervalSeconds)
	assert.Equal(t, []string{"InService"}, cfg.Reconciliation.ValidStates)

	assert.Equal(t, "internal", cfg.Broker.Provider)
	assert.Equal(t, 4, cfg.Broker.MaxAttempts)
	assert.Equal(t, ":8480", cfg.API.ListenAddr)
	assert.False(t, cfg.Monitoring.MetricsEnabled)
	assert.Equal(t, "flocksync", cfg.Monitoring.MetricsNamespace)
	assert.Equal(t, "hmac-sha256", cfg.Providers.RFC2136.TSIGAlgo)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flocksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
  json: false
readiness:
  interval_seconds: 10
  timeout_seconds: 120
reconciliation:
  what_if: true
  max_concurrency: 8
  valid_states: ["InService", "Pending"]
broker:
  provider: bolt
  max_attempts: 2
providers:
  rfc2136:
    server: 127.0.0.1:53
    tsig_key_name: flocksync
    tsig_secret: c2VjcmV0
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.Logging.JSON)
	assert.True(t, cfg.Reconciliation.WhatIf)
	assert.Equal(t, 8, cfg.Reconciliation.MaxConcurrency)
	assert.Equal(t, []string{"InService", "Pending"}, cfg.Reconciliation.ValidStates)
	assert.Equal(t, "bolt", cfg.Broker.Provider)
	assert.Equal(t, 2, cfg.Broker.MaxAttempts)
	assert.Equal(t, "127.0.0.1:53", cfg.Providers.RFC2136.Server)

	spec := cfg.Readiness.Spec()
	assert.Equal(t, 10*time.Second, spec.Interval)
	assert.Equal(t, 120*time.Second, spec.Timeout)
}

func TestLoadRejectsUnknownBroker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flocksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broker:\n  provider: sqs\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRaisesConcurrencyFloor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flocksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reconciliation:\n  max_concurrency: 1\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Reconciliation.MaxConcurrency)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("FLOCKSYNC_LOGGING_LEVEL", "warn")
	t.Setenv("FLOCKSYNC_RECONCILIATION_WHAT_IF", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Reconciliation.WhatIf)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
