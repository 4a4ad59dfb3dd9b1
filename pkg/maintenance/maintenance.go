// Package maintenance runs periodic housekeeping: approval garbage
// collection and intent cache pruning on a cron schedule.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one housekeeping task. Run returns the number of rows removed.
type Job struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

// Config controls the scheduler.
type Config struct {
	// Enabled enables scheduled runs. When false, Start is a no-op and
	// jobs only run via RunAll.
	Enabled bool

	// Schedule is a standard cron expression. Empty disables scheduling.
	Schedule string
}

// Scheduler runs maintenance jobs on a cron schedule.
type Scheduler struct {
	config  Config
	jobs    []Job
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a scheduler for the given jobs.
func NewScheduler(config Config, jobs ...Job) *Scheduler {
	return &Scheduler{
		config: config,
		jobs:   jobs,
		cron:   cron.New(),
		logger: slog.Default().With("component", "maintenance"),
	}
}

// Start begins scheduled maintenance. The scheduler stops itself when
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.config.Enabled || s.config.Schedule == "" {
		s.logger.Info("maintenance scheduler disabled")
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
	}

	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.RunAll(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("maintenance scheduler started",
		"schedule", s.config.Schedule,
		"jobs", len(s.jobs),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunAll executes every job once. One failing job does not stop the
// others.
func (s *Scheduler) RunAll(ctx context.Context) {
	for _, job := range s.jobs {
		removed, err := job.Run(ctx)
		if err != nil {
			s.logger.Error("maintenance job failed",
				"job", job.Name,
				"error", err,
			)
			continue
		}
		if removed > 0 {
			s.logger.Info("maintenance job completed",
				"job", job.Name,
				"removed", removed,
			)
		} else {
			s.logger.Debug("maintenance job completed, nothing to remove",
				"job", job.Name,
			)
		}
	}
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("maintenance scheduler stopped")
	}
}

// IsRunning reports whether scheduled runs are active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled run time, or nil when idle.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
