// Package queue runs the background work of the service: a Redis Streams
// consumer-group worker pool with stale-message claiming, a dead-letter
// stream, and a mover loop that promotes delayed jobs when they come due.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	appctx "github.com/Ramsey-B/stem/pkg/context"
	"github.com/Ramsey-B/stem/pkg/tracing"

	"github.com/Ramsey-B/fern/pkg/redis"
)

var (
	// ErrProcessorStopped is returned when the processor is stopped
	ErrProcessorStopped = errors.New("processor stopped")
)

const (
	// DefaultBatchSize is the default number of messages to consume at once
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for messages
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of queue-level retries
	DefaultMaxRetries = 3

	// DefaultClaimInterval is how often to claim stale pending messages
	DefaultClaimInterval = 30 * time.Second

	// DefaultClaimMinIdle is the minimum idle time before claiming a message
	DefaultClaimMinIdle = 60 * time.Second

	// DefaultMoverInterval is how often the delayed-job mover wakes
	DefaultMoverInterval = time.Second
)

// Handler processes one job of a registered type.
type Handler func(ctx context.Context, job *redis.JobMessage) error

// ProcessorConfig holds configuration for the job processor
type ProcessorConfig struct {
	// Stream name for the job queue
	Stream string

	// DeadStream receives jobs that exhausted their queue retries
	DeadStream string

	// Consumer group name
	ConsumerGroup string

	// Consumer name (unique per instance)
	ConsumerName string

	// Number of messages to fetch per batch
	BatchSize int64

	// How long to block waiting for new messages
	BlockTimeout time.Duration

	// Maximum number of queue-level retries for a job
	MaxRetries int

	// How often to check for and claim stale pending messages
	ClaimInterval time.Duration

	// Minimum idle time before claiming a pending message
	ClaimMinIdle time.Duration

	// How often the mover promotes due delayed jobs
	MoverInterval time.Duration

	// Number of worker goroutines
	WorkerCount int
}

// DefaultProcessorConfig returns the default processor configuration
func DefaultProcessorConfig() ProcessorConfig {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = uuid.New().String()[:8]
	}

	return ProcessorConfig{
		Stream:        "fern:jobs",
		DeadStream:    "fern:jobs:dead",
		ConsumerGroup: "fern-workers",
		ConsumerName:  hostname,
		BatchSize:     DefaultBatchSize,
		BlockTimeout:  DefaultBlockTimeout,
		MaxRetries:    DefaultMaxRetries,
		ClaimInterval: DefaultClaimInterval,
		ClaimMinIdle:  DefaultClaimMinIdle,
		MoverInterval: DefaultMoverInterval,
		WorkerCount:   1,
	}
}

// Processor consumes jobs from the work stream and dispatches them to
// registered handlers
type Processor struct {
	streams  *redis.Streams
	delayed  *redis.Delayed
	config   ProcessorConfig
	logger   ectologger.Logger
	handlers map[string]Handler

	// Channels for coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	jobsCh   chan jobItem

	// State
	running bool
	mu      sync.RWMutex
}

type jobItem struct {
	message redis.StreamMessage
}

// NewProcessor creates a new job processor
func NewProcessor(
	streams *redis.Streams,
	delayed *redis.Delayed,
	config ProcessorConfig,
	logger ectologger.Logger,
) *Processor {
	// Apply defaults
	if config.DeadStream == "" {
		config.DeadStream = config.Stream + ":dead"
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = DefaultBlockTimeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.ClaimInterval <= 0 {
		config.ClaimInterval = DefaultClaimInterval
	}
	if config.ClaimMinIdle <= 0 {
		config.ClaimMinIdle = DefaultClaimMinIdle
	}
	if config.MoverInterval <= 0 {
		config.MoverInterval = DefaultMoverInterval
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}

	return &Processor{
		streams:  streams,
		delayed:  delayed,
		config:   config,
		logger:   logger,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
		jobsCh:   make(chan jobItem, config.BatchSize*2),
	}
}

// RegisterHandler binds a job type to its handler. Must be called before
// Start.
func (p *Processor) RegisterHandler(jobType string, handler Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("cannot register handlers while running")
	}
	if _, exists := p.handlers[jobType]; exists {
		return fmt.Errorf("handler for %q already registered", jobType)
	}
	p.handlers[jobType] = handler
	return nil
}

// Start starts the processor
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("processor already running")
	}
	p.running = true
	p.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "queue.Processor.Start")
	defer span.End()

	p.logger.WithContext(ctx).Infof("Starting job processor: stream=%s group=%s consumer=%s workers=%d",
		p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, p.config.WorkerCount)

	// Create consumer group if it doesn't exist
	if err := p.streams.CreateConsumerGroup(ctx, p.config.Stream, p.config.ConsumerGroup); err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to create consumer group")
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < p.config.WorkerCount; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, i)
	}

	wg.Add(1)
	go p.consumeLoop(ctx, &wg)

	wg.Add(1)
	go p.claimLoop(ctx, &wg)

	if p.delayed != nil {
		wg.Add(1)
		go p.moverLoop(ctx, &wg)
	}

	go func() {
		<-p.stopCh
		close(p.jobsCh)
		wg.Wait()
		close(p.stoppedC)
	}()

	p.logger.WithContext(ctx).Info("Job processor started")
	return nil
}

// Stop stops the processor gracefully
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.WithContext(ctx).Info("Stopping job processor...")

	close(p.stopCh)

	select {
	case <-p.stoppedC:
		p.logger.WithContext(ctx).Info("Job processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WithContext(ctx).Warn("Job processor shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the processor is running
func (p *Processor) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// consumeLoop continuously consumes messages from the stream
func (p *Processor) consumeLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	p.logger.WithContext(ctx).Debug("Consumer loop started")

	for {
		select {
		case <-p.stopCh:
			p.logger.WithContext(ctx).Debug("Consumer loop stopping")
			return
		default:
		}

		messages, err := p.streams.Consume(
			ctx,
			p.config.Stream,
			p.config.ConsumerGroup,
			p.config.ConsumerName,
			p.config.BatchSize,
			p.config.BlockTimeout,
		)

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to consume messages")
			time.Sleep(time.Second) // Back off on error
			continue
		}

		for _, msg := range messages {
			select {
			case p.jobsCh <- jobItem{message: msg}:
			case <-p.stopCh:
				return
			}
		}
	}
}

// claimLoop periodically claims stale pending messages
func (p *Processor) claimLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.config.ClaimInterval)
	defer ticker.Stop()

	p.logger.WithContext(ctx).Debug("Claim loop started")

	for {
		select {
		case <-p.stopCh:
			p.logger.WithContext(ctx).Debug("Claim loop stopping")
			return
		case <-ticker.C:
			p.claimPendingMessages(ctx)
		}
	}
}

// claimPendingMessages claims stale pending messages from other consumers
func (p *Processor) claimPendingMessages(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "queue.Processor.claimPendingMessages")
	defer span.End()

	pending, err := p.streams.Pending(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.BatchSize)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to get pending messages")
		return
	}

	if len(pending) == 0 {
		return
	}

	var staleIDs []string
	for _, msg := range pending {
		if msg.Idle < p.config.ClaimMinIdle {
			continue
		}
		if msg.RetryCount <= int64(p.config.MaxRetries) {
			staleIDs = append(staleIDs, msg.ID)
		} else {
			p.logger.WithContext(ctx).Warnf("Message %s exceeded max retries (%d), moving to dead letters", msg.ID, msg.RetryCount)
			p.moveToDeadLetters(ctx, msg.ID)
		}
	}

	if len(staleIDs) == 0 {
		return
	}

	p.logger.WithContext(ctx).Infof("Claiming %d stale pending messages", len(staleIDs))

	claimed, err := p.streams.Claim(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, p.config.ClaimMinIdle, staleIDs...)
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to claim pending messages")
		return
	}

	for _, msg := range claimed {
		select {
		case p.jobsCh <- jobItem{message: msg}:
		case <-p.stopCh:
			return
		default:
			// Channel full, skip for now
		}
	}
}

// moverLoop promotes delayed jobs onto the work stream when they come due
func (p *Processor) moverLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(p.config.MoverInterval)
	defer ticker.Stop()

	p.logger.WithContext(ctx).Debug("Delayed-job mover started")

	for {
		select {
		case <-p.stopCh:
			p.logger.WithContext(ctx).Debug("Delayed-job mover stopping")
			return
		case <-ticker.C:
			p.moveDueJobs(ctx)
		}
	}
}

func (p *Processor) moveDueJobs(ctx context.Context) {
	jobs, err := p.delayed.PopDue(ctx, time.Now(), int(p.config.BatchSize))
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to pop due delayed jobs")
		return
	}

	for _, job := range jobs {
		if _, err := p.streams.Publish(ctx, p.config.Stream, job); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warnf("Failed to promote delayed job %s", job.ID)
		}
	}
}

// worker processes jobs from the channel
func (p *Processor) worker(ctx context.Context, wg *sync.WaitGroup, id int) {
	defer wg.Done()

	p.logger.WithContext(ctx).Debugf("Worker %d started", id)

	for item := range p.jobsCh {
		err := p.processJob(ctx, item)

		if err == nil {
			if ackErr := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, item.message.ID); ackErr != nil {
				p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack message %s", item.message.ID)
			}
		} else {
			// Message will be reclaimed after ClaimMinIdle
			p.logger.WithContext(ctx).WithError(err).Warnf("Job %s failed, will be retried", item.message.Job.ID)
		}
	}

	p.logger.WithContext(ctx).Debugf("Worker %d stopped", id)
}

// processJob dispatches a single job to its handler
func (p *Processor) processJob(ctx context.Context, item jobItem) error {
	ctx, span := tracing.StartSpan(ctx, "queue.Processor.processJob")
	defer span.End()

	job := item.message.Job
	start := time.Now()

	// Set tenant context
	ctx = appctx.SetTenantID(ctx, job.TenantID)
	ctx = appctx.SetRequestID(ctx, job.ID)

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"job_id":   job.ID,
		"job_type": job.Type,
		"attempts": job.Attempts,
	})
	log.Infof("Processing job %s: type=%s tenant=%s", job.ID, job.Type, job.TenantID)

	p.mu.RLock()
	handler, ok := p.handlers[job.Type]
	p.mu.RUnlock()

	if !ok {
		// Unknown types are acked, not retried: a retry cannot fix them.
		log.Warnf("No handler for job type %s, dropping", job.Type)
		return nil
	}

	err := handler(ctx, job)
	if err != nil {
		log.WithError(err).Warnf("Job %s failed after %s", job.ID, time.Since(start))
		return err
	}

	log.Infof("Job %s completed successfully in %s", job.ID, time.Since(start))
	return nil
}

// moveToDeadLetters republishes an exhausted job to the dead stream and acks
// the original.
func (p *Processor) moveToDeadLetters(ctx context.Context, messageID string) {
	ctx, span := tracing.StartSpan(ctx, "queue.Processor.moveToDeadLetters")
	defer span.End()

	claimed, err := p.streams.Claim(ctx, p.config.Stream, p.config.ConsumerGroup, p.config.ConsumerName, 0, messageID)
	if err != nil || len(claimed) == 0 {
		p.logger.WithContext(ctx).WithError(err).Warnf("Failed to claim message %s for dead letters", messageID)
	} else {
		if _, pubErr := p.streams.Publish(ctx, p.config.DeadStream, claimed[0].Job); pubErr != nil {
			p.logger.WithContext(ctx).WithError(pubErr).Warnf("Failed to publish message %s to dead letters", messageID)
		}
	}

	if ackErr := p.streams.Ack(ctx, p.config.Stream, p.config.ConsumerGroup, messageID); ackErr != nil {
		p.logger.WithContext(ctx).WithError(ackErr).Warnf("Failed to ack message %s after dead letters", messageID)
	}
}
