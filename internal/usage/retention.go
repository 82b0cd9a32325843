package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vyrodovalexey/tiergate/internal/observability"
)

// DefaultRetention is how long day buckets are kept.
const DefaultRetention = 30 * 24 * time.Hour

// RetentionScheduler prunes expired buckets on a cron schedule.
type RetentionScheduler struct {
	store     Store
	retention time.Duration
	schedule  string
	logger    observability.Logger
	now       func() time.Time

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewRetentionScheduler creates a scheduler. The schedule is a standard
// five-field cron expression, evaluated in UTC.
func NewRetentionScheduler(
	store Store,
	retention time.Duration,
	schedule string,
	logger observability.Logger,
) *RetentionScheduler {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RetentionScheduler{
		store:     store,
		retention: retention,
		schedule:  schedule,
		logger:    logger,
		now:       time.Now,
		cron:      cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the prune job and starts the scheduler. The scheduler
// stops when ctx is done.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.schedule == "" {
		s.logger.Info("usage prune schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Prune(ctx); err != nil {
			s.logger.Error("scheduled usage pruning failed", observability.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("usage retention scheduler started",
		observability.String("schedule", s.schedule),
		observability.Duration("retention", s.retention),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Prune removes buckets older than the retention period.
func (s *RetentionScheduler) Prune(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.retention)

	removed, err := s.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	prunedTotal.Add(float64(removed))
	if removed > 0 {
		s.logger.Info("pruned usage buckets",
			observability.Int64("removed", removed),
			observability.String("before", dayKey(cutoff)),
		)
	}
	return removed, nil
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("usage retention scheduler stopped")
}

// NextRun returns the next scheduled prune, or the zero time when the
// scheduler is not running.
func (s *RetentionScheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
