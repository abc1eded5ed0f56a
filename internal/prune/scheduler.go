// Package prune runs the background retention pass: completed peer-session
// registry rows and old audit rows are deleted on a cron cadence. Pruning is
// how stale claims die; there is no lock expiry anywhere else.
package prune

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/crewdeck/internal/persistence"
	"github.com/basket/crewdeck/internal/registry"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the prune scheduler.
type Config struct {
	Store     *persistence.Store
	Registry  *registry.Service
	Logger    *slog.Logger
	CronExpr  string        // prune cadence; defaults to every 10 minutes
	Retention time.Duration // registry retention window; defaults to 24h
	AuditKeep time.Duration // audit log retention; defaults to 30 days
}

// Scheduler fires the retention pass whenever the cron expression is due.
type Scheduler struct {
	store     *persistence.Store
	registry  *registry.Service
	logger    *slog.Logger
	schedule  cronlib.Schedule
	retention time.Duration
	auditKeep time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler, validating the cron expression.
func NewScheduler(cfg Config) (*Scheduler, error) {
	expr := cfg.CronExpr
	if expr == "" {
		expr = "*/10 * * * *"
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	auditKeep := cfg.AuditKeep
	if auditKeep <= 0 {
		auditKeep = 30 * 24 * time.Hour
	}
	return &Scheduler{
		store:     cfg.Store,
		registry:  cfg.Registry,
		logger:    logger,
		schedule:  schedule,
		retention: retention,
		auditKeep: auditKeep,
	}, nil
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("prune scheduler started", "retention", s.retention)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("prune scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	// Fire immediately on startup, then per schedule.
	s.RunOnce(ctx)

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes one retention pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if _, err := s.registry.Prune(ctx, s.retention); err != nil {
		s.logger.Error("prune: registry pass failed", "error", err)
	}
	if n, err := s.store.PruneAuditLog(ctx, time.Now().UTC().Add(-s.auditKeep)); err != nil {
		s.logger.Error("prune: audit pass failed", "error", err)
	} else if n > 0 {
		s.logger.Info("prune: audit rows removed", "count", n)
	}
}
