package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"CREDLOGIC_DB_PATH", "CREDLOGIC_LOG_LEVEL", "CREDLOGIC_RETENTION_DAYS", "CREDLOGIC_PRUNE_SCHEDULE"} {
		t.Setenv(k, "")
	}
	return home
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateHome(t)

	cfg := loadConfig()
	assert.Equal(t, filepath.Join(home, ".credlogic", "credlogic.db"), cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 90, cfg.RetentionDays)
	assert.Equal(t, "0 3 * * *", cfg.PruneSchedule)
	assert.Equal(t, 90*24*time.Hour, cfg.Retention())
}

func TestLoadConfig_Layers(t *testing.T) {
	home := isolateHome(t)

	dir := filepath.Join(home, ".credlogic")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	data, err := json.Marshal(map[string]any{
		"log_level":      "debug",
		"retention_days": 30,
		"db_path":        "/var/lib/credlogic/file.db",
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), data, 0o644))

	cfg := loadConfig()
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, "/var/lib/credlogic/file.db", cfg.DBPath)
	assert.Equal(t, "0 3 * * *", cfg.PruneSchedule, "unset keys keep defaults")

	t.Setenv("CREDLOGIC_LOG_LEVEL", "warn")
	t.Setenv("CREDLOGIC_RETENTION_DAYS", "0")
	t.Setenv("CREDLOGIC_PRUNE_SCHEDULE", "*/15 * * * *")

	cfg = loadConfig()
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 0, cfg.RetentionDays)
	assert.Zero(t, cfg.Retention())
	assert.Equal(t, "*/15 * * * *", cfg.PruneSchedule)
}

func TestLoadConfig_IgnoresBadEnvNumber(t *testing.T) {
	isolateHome(t)
	t.Setenv("CREDLOGIC_RETENTION_DAYS", "ninety")

	assert.Equal(t, 90, loadConfig().RetentionDays)
}

func TestDiffConfigs(t *testing.T) {
	base := defaultConfig()

	d := diffConfigs(base, base)
	assert.False(t, d.LogLevelChanged)
	assert.Empty(t, d.RestartNeeded)

	next := base
	next.LogLevel = "debug"
	next.RetentionDays = 7
	next.DBPath = "/tmp/other.db"

	d = diffConfigs(base, next)
	assert.True(t, d.LogLevelChanged)
	assert.Equal(t, []string{"db_path", "retention_days"}, d.RestartNeeded)
}
