package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FOLIO_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("GO_PORT", "")
	t.Setenv("WORK_WORKERS", "")
	t.Setenv("WORK_QUEUE_SIZE", "")
	t.Setenv("RECONCILE_SCHEDULE", "")
	t.Setenv("BACKUP_BUCKET", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "data"), cfg.DataDir)
	assert.DirExists(t, cfg.DataDir)
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 4, cfg.WorkWorkers)
	assert.Equal(t, 256, cfg.WorkQueueSize)
	assert.Equal(t, DefaultReconcileSchedule, cfg.ReconcileSchedule)
	assert.False(t, cfg.Backup.Enabled())
	assert.Equal(t, filepath.Join(cfg.DataDir, "folio.db"), cfg.DatabasePath("folio"))
}

func TestLoad_FromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FOLIO_DATA_DIR", filepath.Join(dir, "nested"))
	t.Setenv("GO_PORT", "9100")
	t.Setenv("WORK_WORKERS", "2")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("BACKUP_BUCKET", "folio-backups")
	t.Setenv("BACKUP_ENDPOINT", "https://acct.r2.cloudflarestorage.com")
	t.Setenv("BACKUP_ACCESS_KEY_ID", "key")
	t.Setenv("BACKUP_SECRET_ACCESS_KEY", "secret")
	t.Setenv("WS_ORIGIN_PATTERNS", "app.example.com, *.folio.dev,,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "nested"), cfg.DataDir)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, 2, cfg.WorkWorkers)
	assert.True(t, cfg.DevMode)
	assert.True(t, cfg.Backup.Enabled())
	assert.Equal(t, "auto", cfg.Backup.Region)
	assert.Equal(t, DefaultBackupSchedule, cfg.Backup.Schedule)
	assert.Equal(t, []string{"app.example.com", "*.folio.dev"}, cfg.WSOriginPatterns)
}

func TestLoad_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("FOLIO_DATA_DIR", t.TempDir())
	t.Setenv("GO_PORT", "eighty")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8001, cfg.Port)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:              8001,
			WorkWorkers:       4,
			WorkQueueSize:     256,
			ReconcileSchedule: DefaultReconcileSchedule,
			Backup:            BackupConfig{Schedule: DefaultBackupSchedule},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port", func(c *Config) { c.Port = 70000 }, "GO_PORT"},
		{"workers", func(c *Config) { c.WorkWorkers = 0 }, "WORK_WORKERS"},
		{"queue", func(c *Config) { c.WorkQueueSize = -1 }, "WORK_QUEUE_SIZE"},
		{"reconcile schedule", func(c *Config) { c.ReconcileSchedule = "daily" }, "RECONCILE_SCHEDULE"},
		{"five field schedule", func(c *Config) { c.ReconcileSchedule = "0 18 * * MON-FRI" }, "RECONCILE_SCHEDULE"},
		{"descriptor", func(c *Config) { c.ReconcileSchedule = "@daily" }, ""},
		{"origin patterns", func(c *Config) { c.WSOriginPatterns = []string{"*.example.com"} }, ""},
		{"bad origin pattern", func(c *Config) { c.WSOriginPatterns = []string{"app[.example.com"} }, "WS_ORIGIN_PATTERNS"},
		{"backup schedule ignored when disabled", func(c *Config) { c.Backup.Schedule = "nope" }, ""},
		{"backup schedule", func(c *Config) {
			c.Backup.Bucket = "b"
			c.Backup.Schedule = "nope"
		}, "BACKUP_SCHEDULE"},
		{"half credentials", func(c *Config) {
			c.Backup.Bucket = "b"
			c.Backup.AccessKeyID = "key"
		}, "must be set together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
