package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rendis/credlogic/internal/decision"
	"github.com/rendis/credlogic/internal/expressions"
	"github.com/rendis/credlogic/internal/logging"
	"github.com/rendis/credlogic/internal/scheduler"
	"github.com/rendis/credlogic/internal/store"
	"github.com/rendis/credlogic/internal/validation"
	credmcp "github.com/rendis/credlogic/pkg/mcp"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		runServe()
	case "install":
		runInstall(args)
	case "version":
		printVersion()
	default:
		fmt.Fprintf(os.Stderr, "usage: credlogic [serve|install|version]\n")
		os.Exit(2)
	}
}

func runServe() {
	cfg := loadConfig()

	// Logs go to stderr; stdout carries the MCP stdio transport.
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(cfg.LogLevel))
	logger := slog.New(logging.NewCorrelationHandler(
		slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, level, logger); err != nil {
		logger.Error("server stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg Config, level *slog.LevelVar, logger *slog.Logger) error {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	schemaVersion, err := st.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}

	validator, err := validation.NewConditionValidator()
	if err != nil {
		return err
	}
	engines, err := expressions.NewRegistry()
	if err != nil {
		return err
	}
	decider, err := decision.New(decision.Deps{
		Store:     st,
		Validator: validator,
		Engines:   engines,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	if retention := cfg.Retention(); retention > 0 {
		sched, err := scheduler.NewScheduler(st, scheduler.Config{
			Schedule:  cfg.PruneSchedule,
			Retention: retention,
		}, logger)
		if err != nil {
			return err
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(os.Getpid())), 0o644); err == nil {
		defer os.Remove(pidPath())
	}
	go watchReload(ctx, cfg, level, logger)

	srv, err := credmcp.NewServer(credmcp.ServerDeps{
		Store:     st,
		Decider:   decider,
		Validator: validator,
		Engines:   engines,
		Logger:    logger,
		Version:   version,
	})
	if err != nil {
		return err
	}

	logger.Info("credlogic serving on stdio",
		slog.String("db_path", cfg.DBPath),
		slog.String("version", version),
		slog.Int("schema_version", schemaVersion),
	)
	return srv.Serve(ctx)
}

// watchReload re-reads the configuration on SIGHUP. The log level is applied
// in place; other changes only take effect after a restart.
func watchReload(ctx context.Context, cfg Config, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			next := loadConfig()
			d := diffConfigs(cfg, next)
			if d.LogLevelChanged {
				level.Set(logging.ParseLevel(next.LogLevel))
				cfg.LogLevel = next.LogLevel
				logger.Info("log level changed", slog.String("level", next.LogLevel))
			}
			if len(d.RestartNeeded) > 0 {
				logger.Warn("configuration changes require a restart", slog.Any("fields", d.RestartNeeded))
			}
		}
	}
}
