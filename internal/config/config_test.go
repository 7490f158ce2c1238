package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./data/storagecore.db", cfg.Storage.FilesystemPath)
	assert.Equal(t, "localhost:6379", cfg.SyncKV.Addr)
	assert.Equal(t, 0.80, cfg.Quota.WarningThreshold)
	assert.Equal(t, 0.95, cfg.Quota.CriticalThreshold)
	assert.True(t, cfg.Security.RequireSecureContext)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeTempYAML(t, `
storage:
  filesystem_path: /var/lib/storagecore/index.db
sync_kv:
  addr: redis.internal:6379
security:
  require_secure_context: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/storagecore/index.db", cfg.Storage.FilesystemPath)
	assert.Equal(t, "redis.internal:6379", cfg.SyncKV.Addr)
	assert.False(t, cfg.Security.RequireSecureContext)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "./data/storagecore.db", cfg.Storage.FilesystemPath)
}

func TestValidate_RejectsEmptyStoragePath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Storage.FilesystemPath = ""
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsCriticalThresholdBelowWarning(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Quota.WarningThreshold = 0.90
	cfg.Quota.CriticalThreshold = 0.80
	require.Error(t, cfg.Validate())
}

func TestQuotaConfig_ToQuotaConfigRoundTrips(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	qc := cfg.Quota.ToQuotaConfig()
	assert.Equal(t, cfg.Quota.WarningThreshold, qc.WarningThreshold)
	assert.Equal(t, cfg.Quota.FallbackQuota, qc.FallbackQuota)
}
