package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RetentionConfig controls automatic cleanup of old journal records.
type RetentionConfig struct {
	// Days is the number of days to retain records. 0 keeps records
	// forever.
	Days int

	// Schedule is a cron expression for when cleanup runs.
	// Example: "0 3 * * *" (daily at 3 AM)
	Schedule string
}

// RetentionScheduler deletes journal records past the retention period on
// a cron schedule.
type RetentionScheduler struct {
	journal *Journal
	config  RetentionConfig
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

// NewRetentionScheduler creates a retention scheduler for the journal.
func NewRetentionScheduler(journal *Journal, config RetentionConfig, logger *slog.Logger) *RetentionScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionScheduler{
		journal: journal,
		config:  config,
		cron:    cron.New(),
		logger:  logger.With("component", "journal.retention"),
	}
}

// Start begins scheduled cleanup based on the cron expression. With an
// empty schedule or zero retention days the scheduler does nothing.
//
// Common cron expressions:
//
//	"0 3 * * *"    - daily at 3 AM
//	"0 */6 * * *"  - every 6 hours
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.config.Schedule == "" || s.config.Days <= 0 {
		s.logger.Info("journal retention not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.config.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.config.Schedule, err)
	}

	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		s.runCleanup(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule journal cleanup: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("journal retention scheduler started",
		"schedule", s.config.Schedule,
		"retention_days", s.config.Days,
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// runCleanup executes one cleanup cycle.
func (s *RetentionScheduler) runCleanup(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.config.Days)

	deleted, err := s.journal.CleanupBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("scheduled journal cleanup failed", "error", err)
		return
	}

	if deleted > 0 {
		s.logger.Info("scheduled journal cleanup completed",
			"deleted_count", deleted,
			"retention_days", s.config.Days,
		)
	} else {
		s.logger.Debug("scheduled journal cleanup completed, no records deleted")
	}
}

// Stop stops the scheduler and waits for a running cleanup to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done() // Wait for running jobs to finish
		s.running = false
		s.logger.Info("journal retention scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *RetentionScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled cleanup time, or nil when nothing is
// scheduled.
func (s *RetentionScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
