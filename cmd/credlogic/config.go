package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rendis/credlogic/internal/scheduler"
)

// Config holds all credlogic server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string `json:"db_path"`
	LogLevel      string `json:"log_level"`
	RetentionDays int    `json:"retention_days"`
	PruneSchedule string `json:"prune_schedule"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(credlogicDir(), "credlogic.db"),
		LogLevel:      "info",
		RetentionDays: 90,
		PruneSchedule: scheduler.DefaultSchedule,
	}
}

// Retention is the evaluation-log retention window; zero disables pruning.
func (c Config) Retention() time.Duration {
	if c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func credlogicDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".credlogic"
	}
	return filepath.Join(home, ".credlogic")
}

func settingsPath() string {
	return filepath.Join(credlogicDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("CREDLOGIC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CREDLOGIC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CREDLOGIC_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = n
		}
	}
	if v := os.Getenv("CREDLOGIC_PRUNE_SCHEDULE"); v != "" {
		cfg.PruneSchedule = v
	}

	return cfg
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.RetentionDays != new.RetentionDays {
		d.RestartNeeded = append(d.RestartNeeded, "retention_days")
	}
	if old.PruneSchedule != new.PruneSchedule {
		d.RestartNeeded = append(d.RestartNeeded, "prune_schedule")
	}
	return d
}

func pidPath() string {
	return filepath.Join(credlogicDir(), "credlogic.pid")
}
