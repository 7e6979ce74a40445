package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/insider-one/notification-dispatcher/internal/delivery"
	"github.com/insider-one/notification-dispatcher/internal/domain"
)

const (
	defaultMaxBatchSize = 1000
)

// StrategyResolver returns the delivery strategy of a channel
type StrategyResolver interface {
	Get(channel domain.Channel) (delivery.Strategy, error)
}

// BatchSubmitter hands an accepted batch to background processing without blocking
type BatchSubmitter interface {
	Submit(b *domain.NotificationBatch) error
}

// SendIndividual is the command to send one notification
type SendIndividual struct {
	RecipientID string         `json:"recipient_id" validate:"required,uuid"`
	ContactInfo string         `json:"contact_info" validate:"required,max=320"`
	Channel     domain.Channel `json:"channel" validate:"required,oneof=system whatsapp email"`
	Title       string         `json:"title" validate:"max=255"`
	Body        string         `json:"body" validate:"required,max=5000"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// BatchRecipient is one addressee of a batch
type BatchRecipient struct {
	RecipientID string `json:"recipient_id" validate:"required,uuid"`
	ContactInfo string `json:"contact_info" validate:"required,max=320"`
}

// SendBatch is the command to send the same content to many recipients
type SendBatch struct {
	Recipients []BatchRecipient `json:"recipients" validate:"required,min=1,max=1000,dive"`
	Channel    domain.Channel   `json:"channel" validate:"required,oneof=system whatsapp email"`
	Title      string           `json:"title" validate:"max=255"`
	Body       string           `json:"body" validate:"required,max=5000"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
}

// SendResult is returned by both send commands
type SendResult struct {
	Success        bool                  `json:"success"`
	NotificationID domain.NotificationID `json:"notification_id,omitempty"`
	BatchID        domain.BatchID        `json:"batch_id,omitempty"`
	// QueuedForSweep is set when the processor was saturated and the stored
	// batch waits for the stale batch sweeper instead
	QueuedForSweep bool                  `json:"queued_for_sweep,omitempty"`
	Error          string                `json:"error,omitempty"`
}

func failed(err error) SendResult {
	return SendResult{Success: false, Error: err.Error()}
}

// Dispatcher orchestrates single and batch sends
type Dispatcher struct {
	notifications domain.NotificationRepository
	batches       domain.BatchRepository
	strategies    StrategyResolver
	publisher     domain.EventPublisher
	submitter     BatchSubmitter
	maxBatchSize  int
	logger        *slog.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(
	notifications domain.NotificationRepository,
	batches domain.BatchRepository,
	strategies StrategyResolver,
	publisher domain.EventPublisher,
	submitter BatchSubmitter,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		notifications: notifications,
		batches:       batches,
		strategies:    strategies,
		publisher:     publisher,
		submitter:     submitter,
		maxBatchSize:  defaultMaxBatchSize,
		logger:        logger,
	}
}

// SetMaxBatchSize overrides the recipient limit of one batch
func (d *Dispatcher) SetMaxBatchSize(n int) {
	if n > 0 {
		d.maxBatchSize = n
	}
}

// SendMessage validates, persists and synchronously delivers one notification.
// A vendor failure marks the notification FAILED and publishes a failure event.
func (d *Dispatcher) SendMessage(ctx context.Context, cmd SendIndividual) (SendResult, error) {
	channel, err := domain.ParseChannel(string(cmd.Channel))
	if err != nil {
		return failed(err), err
	}
	content, err := domain.NewNotificationContent(cmd.Title, cmd.Body, cmd.Metadata)
	if err != nil {
		return failed(err), err
	}
	n, err := buildNotification(channel, content, cmd.RecipientID, cmd.ContactInfo)
	if err != nil {
		return failed(err), err
	}

	// resolved before persisting so a misconfigured channel leaves no PENDING row behind
	strategy, err := d.strategies.Get(channel)
	if err != nil {
		return failed(err), err
	}

	if err := d.notifications.Save(ctx, n); err != nil {
		err = fmt.Errorf("failed to save notification: %w", err)
		return failed(err), err
	}

	logger := d.logger.With("notification_id", n.ID(), "channel", channel)

	receipt, err := strategy.DeliverSingle(ctx, n)
	if err != nil {
		logger.Warn("notification delivery failed", "error", err)
		d.fail(ctx, n, err.Error(), logger)
		res := failed(err)
		res.NotificationID = n.ID()
		return res, err
	}

	if err := n.MarkAsSent(); err != nil {
		return failed(err), err
	}
	if err := d.notifications.Update(ctx, n); err != nil {
		err = fmt.Errorf("failed to update notification: %w", err)
		return failed(err), err
	}
	d.publisher.Publish(ctx, domain.NewSentEvent(n))
	logger.Info("notification sent", "message_id", receipt.MessageID)

	if receipt.Delivered {
		if err := d.deliver(ctx, n); err != nil {
			logger.Error("failed to record delivery", "error", err)
		}
	}

	return SendResult{Success: true, NotificationID: n.ID()}, nil
}

// SendBatchMessages validates every recipient, persists a PENDING batch and
// hands it to the background processor. It returns before any delivery happens.
func (d *Dispatcher) SendBatchMessages(ctx context.Context, cmd SendBatch) (SendResult, error) {
	channel, err := domain.ParseChannel(string(cmd.Channel))
	if err != nil {
		return failed(err), err
	}
	content, err := domain.NewNotificationContent(cmd.Title, cmd.Body, cmd.Metadata)
	if err != nil {
		return failed(err), err
	}
	if len(cmd.Recipients) == 0 {
		err := domain.NewValidationError("recipients", "at least one recipient is required")
		return failed(err), err
	}
	if len(cmd.Recipients) > d.maxBatchSize {
		err := fmt.Errorf("%w: %d recipients, limit is %d", domain.ErrBatchSizeExceeded, len(cmd.Recipients), d.maxBatchSize)
		return failed(err), err
	}

	members := make([]*domain.Notification, 0, len(cmd.Recipients))
	for i, r := range cmd.Recipients {
		n, err := buildNotification(channel, content, r.RecipientID, r.ContactInfo)
		if err != nil {
			err = recipientError(i, err)
			return failed(err), err
		}
		members = append(members, n)
	}

	strategy, err := d.strategies.Get(channel)
	if err != nil {
		return failed(err), err
	}
	if !strategy.SupportsBatch() {
		err := fmt.Errorf("%w: %s", domain.ErrBatchNotSupported, channel)
		return failed(err), err
	}

	batch, err := domain.NewNotificationBatch(channel, members)
	if err != nil {
		return failed(err), err
	}
	if err := d.batches.Save(ctx, batch); err != nil {
		err = fmt.Errorf("failed to save batch: %w", err)
		return failed(err), err
	}

	logger := d.logger.With("batch_id", batch.ID(), "channel", channel)

	if err := d.submitter.Submit(batch); err != nil {
		if errors.Is(err, domain.ErrProcessorBusy) || errors.Is(err, domain.ErrProcessorStopped) {
			// the batch is stored as PENDING, a retry by the caller would send it twice
			logger.Warn("processor saturated, batch left for sweeper", "error", err, "size", batch.Size())
			return SendResult{Success: true, BatchID: batch.ID(), QueuedForSweep: true}, nil
		}
		logger.Error("failed to submit batch", "error", err)
		res := failed(err)
		res.BatchID = batch.ID()
		return res, err
	}

	logger.Info("batch accepted", "size", batch.Size())
	return SendResult{Success: true, BatchID: batch.ID()}, nil
}

// ConfirmDelivery records a vendor delivery receipt: SENT -> DELIVERED
func (d *Dispatcher) ConfirmDelivery(ctx context.Context, id domain.NotificationID) error {
	n, err := d.notifications.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return d.deliver(ctx, n)
}

// GetNotification returns one notification
func (d *Dispatcher) GetNotification(ctx context.Context, id domain.NotificationID) (*domain.Notification, error) {
	return d.notifications.GetByID(ctx, id)
}

// GetBatch returns one batch with its notifications
func (d *Dispatcher) GetBatch(ctx context.Context, id domain.BatchID) (*domain.NotificationBatch, error) {
	return d.batches.GetByID(ctx, id)
}

func (d *Dispatcher) deliver(ctx context.Context, n *domain.Notification) error {
	if err := n.MarkAsDelivered(); err != nil {
		return err
	}
	if err := d.notifications.Update(ctx, n); err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	d.publisher.Publish(ctx, domain.NewDeliveredEvent(n))
	return nil
}

// fail marks n FAILED, persists it and publishes the failure. Errors are logged only,
// the delivery error is what the caller gets back.
func (d *Dispatcher) fail(ctx context.Context, n *domain.Notification, reason string, logger *slog.Logger) {
	if err := n.MarkAsFailed(reason); err != nil {
		logger.Error("failed to mark notification as failed", "error", err)
		return
	}
	if err := d.notifications.Update(ctx, n); err != nil {
		logger.Error("failed to persist failed notification", "error", err)
	}
	d.publisher.Publish(ctx, domain.NewFailedEvent(n))
}

func buildNotification(channel domain.Channel, content domain.NotificationContent, recipientID, contact string) (*domain.Notification, error) {
	recipient, err := domain.ParseUserID(recipientID)
	if err != nil {
		return nil, err
	}
	info, err := domain.ParseContactInfo(channel, contact)
	if err != nil {
		return nil, err
	}
	return domain.NewNotification(recipient, content, info)
}

func recipientError(i int, err error) error {
	var verr domain.ValidationError
	if errors.As(err, &verr) {
		return domain.NewValidationError(fmt.Sprintf("recipients[%d].%s", i, verr.Field), verr.Message)
	}
	return fmt.Errorf("recipient %d: %w", i, err)
}
