// Package scheduler polls for importers whose next run is due and enqueues
// their runs. Instances coordinate through per-importer redis locks, so more
// than one scheduler can run at once.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	appctx "github.com/Ramsey-B/stem/pkg/context"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/internal/repositories/importer"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/queue"
	"github.com/Ramsey-B/fern/pkg/redis"
)

var (
	// ErrSchedulerStopped is returned when the scheduler is stopped
	ErrSchedulerStopped = errors.New("scheduler stopped")

	// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
	ErrSchedulerAlreadyRunning = errors.New("scheduler already running")
)

const (
	// DefaultPollInterval is the default interval between scheduling cycles
	DefaultPollInterval = 30 * time.Second

	// DefaultLockTTL is the default TTL for per-importer locks
	DefaultLockTTL = 60 * time.Second

	// DefaultBatchSize is the number of due importers to fetch per poll
	DefaultBatchSize = 100

	// LockKeyPrefix is the prefix for scheduler locks
	LockKeyPrefix = "scheduler:importer:"
)

// Config holds configuration for the scheduler
type Config struct {
	// PollInterval is how often to check for due importers
	PollInterval time.Duration

	// LockTTL is how long to hold a lock for one importer
	LockTTL time.Duration

	// BatchSize is the maximum number of importers to schedule per poll
	BatchSize int
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		LockTTL:      DefaultLockTTL,
		BatchSize:    DefaultBatchSize,
	}
}

// Scheduler polls for and enqueues due importer runs
type Scheduler struct {
	importers *importer.Repository
	enqueuer  *queue.Enqueuer
	locker    *redis.Locker
	config    Config
	logger    ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(
	importers *importer.Repository,
	enqueuer *queue.Enqueuer,
	locker *redis.Locker,
	config Config,
	logger ectologger.Logger,
) *Scheduler {
	// Apply defaults
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	return &Scheduler{
		importers: importers,
		enqueuer:  enqueuer,
		locker:    locker,
		config:    config,
		logger:    logger,
		stopCh:    make(chan struct{}),
		stoppedC:  make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "Scheduler.Start")
	defer span.End()

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s batch_size=%d",
		s.config.PollInterval, s.config.BatchSize)

	go s.pollLoop(ctx)

	s.logger.WithContext(ctx).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	close(s.stopCh)

	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// pollLoop continuously polls for due importers
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.runSchedulingCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler poll loop stopping")
			return
		case <-ticker.C:
			s.runSchedulingCycle(ctx)
		}
	}
}

// runSchedulingCycle runs a single scheduling cycle
func (s *Scheduler) runSchedulingCycle(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.runSchedulingCycle")
	defer span.End()

	start := time.Now()
	s.logger.WithContext(ctx).Debug("Running scheduling cycle")

	due, err := s.importers.ListDue(ctx, start.UTC(), s.config.BatchSize)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list due importers")
		return
	}

	if len(due) == 0 {
		s.logger.WithContext(ctx).Debug("No importers due")
		return
	}

	s.logger.WithContext(ctx).Infof("Found %d importers due", len(due))

	scheduled := 0
	skipped := 0
	for _, imp := range due {
		if err := s.scheduleImporter(ctx, imp); err != nil {
			if errors.Is(err, redis.ErrLockNotAcquired) {
				skipped++
				continue
			}
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to schedule importer %s", imp.ID)
			continue
		}
		scheduled++
	}

	duration := time.Since(start)
	s.logger.WithContext(ctx).Infof("Scheduling cycle completed: scheduled=%d skipped=%d duration=%s",
		scheduled, skipped, duration)
}

// scheduleImporter enqueues one due importer's run while holding its lock.
// next_run_at advances at enqueue time, before the run executes, so a slow
// run cannot be picked up twice.
func (s *Scheduler) scheduleImporter(ctx context.Context, imp models.Importer) error {
	ctx, span := tracing.StartSpan(ctx, "Scheduler.scheduleImporter")
	defer span.End()

	lock, err := s.locker.Acquire(ctx, LockKeyPrefix+imp.ID, s.config.LockTTL)
	if err != nil {
		return err
	}
	defer lock.Release(ctx)

	// Set tenant context for logging
	ctx = appctx.SetTenantID(ctx, imp.TenantID)

	s.logger.WithContext(ctx).Debugf("Scheduling importer %s", imp.ID)

	// Scheduled re-runs only pick up changed records; a full run is always
	// available through the manual trigger.
	err = s.enqueuer.Enqueue(ctx, imp.TenantID, queue.JobTypeImporterRun, queue.ImporterRunJob{
		ImporterID:  imp.ID,
		OnlyUpdates: true,
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to enqueue run for importer %s", imp.ID)
		return err
	}

	if err := s.importers.MarkRan(ctx, imp.TenantID, imp.ID, time.Now().UTC()); err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to advance schedule for importer %s", imp.ID)
		return err
	}

	s.logger.WithContext(ctx).Infof("Scheduled importer %s", imp.ID)
	return nil
}
