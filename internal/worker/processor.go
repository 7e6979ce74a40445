package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/insider-one/notification-dispatcher/internal/config"
	"github.com/insider-one/notification-dispatcher/internal/delivery"
	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// StrategyResolver returns the delivery strategy of a channel
type StrategyResolver interface {
	Get(channel domain.Channel) (delivery.Strategy, error)
}

// Processor delivers accepted batches on a bounded worker pool.
// Each batch is owned by exactly one worker while it is processed.
type Processor struct {
	batches       domain.BatchRepository
	notifications domain.NotificationRepository
	strategies    StrategyResolver
	publisher     domain.EventPublisher
	logger        *slog.Logger
	poolSize      int
	stopTimeout   time.Duration

	jobs chan *domain.NotificationBatch

	mu         sync.Mutex
	running    bool
	inFlight   map[domain.BatchID]struct{}
	wg         sync.WaitGroup
	cancelFunc context.CancelFunc
}

// NewProcessor creates a new Processor
func NewProcessor(
	batches domain.BatchRepository,
	notifications domain.NotificationRepository,
	strategies StrategyResolver,
	publisher domain.EventPublisher,
	logger *slog.Logger,
	cfg config.WorkerConfig,
) *Processor {
	return &Processor{
		batches:       batches,
		notifications: notifications,
		strategies:    strategies,
		publisher:     publisher,
		logger:        logger,
		poolSize:      max(1, cfg.PoolSize),
		stopTimeout:   cfg.StopTimeout,
		jobs:          make(chan *domain.NotificationBatch, max(1, cfg.QueueSize)),
		inFlight:      make(map[domain.BatchID]struct{}),
	}
}

// Start starts the worker pool
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	ctx, p.cancelFunc = context.WithCancel(ctx)

	for i := 0; i < p.poolSize; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.logger.Info("processor started", "workers", p.poolSize, "queue_size", cap(p.jobs))
	return nil
}

// Stop stops accepting batches and waits for in-flight batches to finish.
// Batches still queued stay PENDING for the sweeper.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	if p.cancelFunc != nil {
		p.cancelFunc()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timeout := p.stopTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-done:
		p.logger.Info("processor stopped gracefully")
	case <-time.After(timeout):
		p.logger.Warn("processor stop timed out")
	}
}

// Submit queues a batch without blocking. A batch already queued or running is ignored.
func (p *Processor) Submit(b *domain.NotificationBatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return domain.ErrProcessorStopped
	}
	if _, ok := p.inFlight[b.ID()]; ok {
		return nil
	}

	select {
	case p.jobs <- b:
		p.inFlight[b.ID()] = struct{}{}
		return nil
	default:
		return domain.ErrProcessorBusy
	}
}

// QueueDepth returns the number of batches waiting for a worker
func (p *Processor) QueueDepth() int {
	return len(p.jobs)
}

// InFlight returns the number of batches queued or running
func (p *Processor) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inFlight)
}

// worker takes batches until ctx is cancelled. Processing runs on a context
// detached from ctx so shutdown does not fail a batch halfway.
func (p *Processor) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	logger := p.logger.With("worker_id", workerID)
	runCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker stopped")
			return
		case b := <-p.jobs:
			p.run(runCtx, b, logger)
		}
	}
}

func (p *Processor) run(ctx context.Context, b *domain.NotificationBatch, logger *slog.Logger) {
	defer func() {
		p.mu.Lock()
		delete(p.inFlight, b.ID())
		p.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing batch", "batch_id", b.ID(), "panic", r)
		}
	}()

	p.Process(ctx, b)
}

// Process drives one batch to COMPLETED or FAILED. Every error is logged and
// swallowed; the submitter was acknowledged long ago.
func (p *Processor) Process(ctx context.Context, b *domain.NotificationBatch) {
	logger := p.logger.With("batch_id", b.ID(), "channel", b.Channel())

	if b.Status() != domain.BatchStatusPending {
		logger.Warn("skipping batch", "status", b.Status())
		return
	}
	// the in-memory copy may be stale, the row decides who owns the batch
	claimed, err := p.batches.Claim(ctx, b.ID())
	if err != nil {
		logger.Error("failed to claim batch", "error", err)
		return
	}
	if !claimed {
		logger.Info("batch already claimed, skipping")
		return
	}
	if err := b.MarkAsProcessing(); err != nil {
		logger.Error("failed to mark batch as processing", "error", err)
		return
	}

	strategy, err := p.strategies.Get(b.Channel())
	if err != nil {
		p.failBatch(ctx, b, err, logger)
		return
	}

	start := time.Now()
	result, err := strategy.DeliverBatch(ctx, b)
	if result != nil {
		p.applyOutcomes(ctx, result, logger)
	}
	if err != nil {
		p.failBatch(ctx, b, err, logger)
		return
	}

	if err := b.MarkAsCompleted(); err != nil {
		logger.Error("failed to complete batch", "error", err)
		return
	}
	if err := p.batches.Update(ctx, b); err != nil {
		logger.Error("failed to persist completed batch", "error", err)
	}

	completed := domain.NewBatchCompletedEvent(b)
	p.publisher.Publish(ctx, completed)
	logger.Info("batch completed",
		"sent", completed.Sent,
		"failed", completed.Failed,
		"duration", time.Since(start),
	)
}

// applyOutcomes records per-item results in delivery order
func (p *Processor) applyOutcomes(ctx context.Context, result *delivery.BatchResult, logger *slog.Logger) {
	for _, o := range result.Outcomes {
		n := o.Notification
		nlog := logger.With("notification_id", n.ID())

		if !o.Succeeded() {
			p.failNotification(ctx, n, o.Err.Error(), nlog)
			continue
		}

		if err := n.MarkAsSent(); err != nil {
			nlog.Error("failed to mark notification as sent", "error", err)
			continue
		}
		if err := p.notifications.Update(ctx, n); err != nil {
			nlog.Error("failed to persist sent notification", "error", err)
		}
		p.publisher.Publish(ctx, domain.NewSentEvent(n))

		if o.Receipt != nil && o.Receipt.Delivered {
			if err := n.MarkAsDelivered(); err != nil {
				nlog.Error("failed to mark notification as delivered", "error", err)
				continue
			}
			if err := p.notifications.Update(ctx, n); err != nil {
				nlog.Error("failed to persist delivered notification", "error", err)
			}
			p.publisher.Publish(ctx, domain.NewDeliveredEvent(n))
		}
	}
}

// failBatch marks the batch FAILED and fails every member that is still PENDING.
// Members already SENT keep their status.
func (p *Processor) failBatch(ctx context.Context, b *domain.NotificationBatch, cause error, logger *slog.Logger) {
	reason := cause.Error()
	var serr *domain.SystemicBatchError
	if errors.As(cause, &serr) {
		reason = serr.Err.Error()
	}
	logger.Error("batch failed", "error", reason)

	if err := b.MarkAsFailed(reason); err != nil {
		logger.Error("failed to mark batch as failed", "error", err)
	} else if err := p.batches.Update(ctx, b); err != nil {
		logger.Error("failed to persist failed batch", "error", err)
	}

	itemReason := fmt.Sprintf("batch %s failed: %s", b.ID(), reason)
	for _, n := range b.Notifications() {
		if n.Status() != domain.StatusPending {
			continue
		}
		p.failNotification(ctx, n, itemReason, logger.With("notification_id", n.ID()))
	}

	p.publisher.Publish(ctx, domain.NewBatchCompletedEvent(b))
}

func (p *Processor) failNotification(ctx context.Context, n *domain.Notification, reason string, logger *slog.Logger) {
	if err := n.MarkAsFailed(reason); err != nil {
		logger.Error("failed to mark notification as failed", "error", err)
		return
	}
	if err := p.notifications.Update(ctx, n); err != nil {
		logger.Error("failed to persist failed notification", "error", err)
	}
	p.publisher.Publish(ctx, domain.NewFailedEvent(n))
}
