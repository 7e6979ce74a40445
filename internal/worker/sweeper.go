package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/insider-one/notification-dispatcher/internal/config"
	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// Submitter accepts batches for processing
type Submitter interface {
	Submit(b *domain.NotificationBatch) error
}

// Sweeper resubmits batches that were accepted but never picked up,
// e.g. because the queue was full or the process restarted
type Sweeper struct {
	batches   domain.BatchRepository
	submitter Submitter
	logger    *slog.Logger
	schedule  string
	staleAge  time.Duration
	limit     int
	cron      *cron.Cron
}

// NewSweeper creates a new Sweeper
func NewSweeper(batches domain.BatchRepository, submitter Submitter, logger *slog.Logger, cfg config.WorkerConfig) *Sweeper {
	cronLogger := slogCronLogger{logger: logger}
	return &Sweeper{
		batches:   batches,
		submitter: submitter,
		logger:    logger,
		schedule:  cfg.SweepSchedule,
		staleAge:  cfg.StaleAge,
		limit:     max(1, cfg.SweepBatchSize),
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

// Start schedules the sweep
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error("stale batch sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("sweeper started", "schedule", s.schedule, "stale_age", s.staleAge)
	return nil
}

// Stop stops scheduling and waits for a running sweep
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("sweeper stopped")
}

// Sweep submits PENDING batches older than the stale age and returns how many were accepted
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.staleAge)
	stale, err := s.batches.ListStale(ctx, domain.BatchStatusPending, cutoff, s.limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale batches: %w", err)
	}

	submitted := 0
	for _, b := range stale {
		if err := s.submitter.Submit(b); err != nil {
			if errors.Is(err, domain.ErrProcessorBusy) || errors.Is(err, domain.ErrProcessorStopped) {
				s.logger.Warn("processor not accepting batches, sweep deferred", "error", err)
				break
			}
			s.logger.Error("failed to resubmit batch", "batch_id", b.ID(), "error", err)
			continue
		}
		submitted++
	}

	if submitted > 0 {
		s.logger.Info("stale batches resubmitted", "count", submitted)
	}
	return submitted, nil
}

// slogCronLogger adapts slog to cron.Logger
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
