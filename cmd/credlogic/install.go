package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rendis/credlogic/internal/scheduler"
)

func runInstall(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	dbPath := fs.String("db-path", "", "database path (default: ~/.credlogic/credlogic.db)")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	retentionDays := fs.Int("retention-days", 90, "days to keep evaluation records (0 keeps them forever)")
	pruneSchedule := fs.String("prune-schedule", scheduler.DefaultSchedule, "cron schedule for evaluation pruning")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	firstPrune, err := scheduler.CalculateNextRun(*pruneSchedule, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid prune schedule: %v\n", err)
		os.Exit(1)
	}

	dir := credlogicDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot create %s: %v\n", dir, err)
		os.Exit(1)
	}

	cfg := Config{
		LogLevel:      *logLevel,
		RetentionDays: *retentionDays,
		PruneSchedule: *pruneSchedule,
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	} else {
		cfg.DBPath = filepath.Join(dir, "credlogic.db")
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot write %s: %v\n", path, err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", path)
	if cfg.RetentionDays > 0 {
		fmt.Printf("Next evaluation prune at %s\n", firstPrune.Format(time.RFC3339))
	}

	signalRunningServer()
}

// signalRunningServer sends SIGHUP to a running credlogic server (via pidfile).
// Returns true if the server was signaled.
func signalRunningServer() bool {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Check if process is alive.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return false
	}
	fmt.Printf("Signaled running server (PID %d) to reload configuration\n", pid)
	return true
}
