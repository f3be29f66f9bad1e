// Package scheduler runs the evaluation-log retention job.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/credlogic/internal/store"
)

// DefaultSchedule prunes once a day at 03:00.
const DefaultSchedule = "0 3 * * *"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Config controls the retention job.
type Config struct {
	// Schedule is a five-field cron expression.
	Schedule string
	// Retention is how long evaluation records are kept.
	Retention time.Duration
	// Tick is how often the loop checks whether a run is due. Defaults to 60s.
	Tick time.Duration
}

// Scheduler prunes evaluation records older than the retention window on a
// cron schedule.
type Scheduler struct {
	store     store.Store
	schedule  cron.Schedule
	retention time.Duration
	tick      time.Duration
	logger    *slog.Logger
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	runMu   sync.Mutex // serializes prune runs
	nextRun time.Time
	lastRun time.Time
}

// NewScheduler creates a Scheduler. It fails when the schedule does not parse
// or the retention window is not positive.
func NewScheduler(s store.Store, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if cfg.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", cfg.Retention)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 60 * time.Second
	}

	sched := &Scheduler{
		store:     s,
		retention: cfg.Retention,
		tick:      cfg.Tick,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	schedule, err := parseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	sched.schedule = schedule
	return sched, nil
}

// Start launches the background loop. The first tick runs immediately and
// prunes once, catching up on runs missed while the process was down.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("retention scheduler started",
		slog.Duration("retention", s.retention),
	)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.runIfDue(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runIfDue(ctx)
		}
	}
}

func (s *Scheduler) runIfDue(ctx context.Context) {
	s.runMu.Lock()
	due := s.nextRun.IsZero() || !s.nextRun.After(s.now())
	s.runMu.Unlock()
	if !due {
		return
	}
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("evaluation pruning failed", slog.String("error", err.Error()))
	}
}

// RunOnce prunes immediately and reschedules the next run.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	now := s.now()
	s.lastRun = now
	s.nextRun = s.schedule.Next(now)

	cutoff := now.Add(-s.retention)
	removed, err := s.store.PruneEvaluations(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("pruned evaluations",
		slog.Int64("removed", removed),
		slog.Time("cutoff", cutoff),
		slog.Time("next_run", s.nextRun),
	)
	if removed > 0 {
		if err := s.store.Vacuum(ctx); err != nil {
			s.logger.Warn("vacuum after prune failed", slog.String("error", err.Error()))
		}
	}
	return removed, nil
}

// NextRun returns when the next prune is due; zero before the first run.
func (s *Scheduler) NextRun() time.Time {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.nextRun
}

// CalculateNextRun computes the next run time for a five-field cron
// expression.
func CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := parseSchedule(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}

func parseSchedule(cronExpr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule, nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("retention scheduler stopped")
	return nil
}
