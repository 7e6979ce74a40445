package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// Limiter admits outbound calls for a named service, blocking while its window is full
type Limiter interface {
	CheckAndWaitIfNeeded(ctx context.Context, service string) error
}

// Strategy delivers notifications of one channel
type Strategy interface {
	Channel() domain.Channel
	Capabilities() domain.Capabilities
	SupportsBatch() bool
	// DeliverSingle sends one notification. It never changes the notification status.
	DeliverSingle(ctx context.Context, n *domain.Notification) (*domain.Receipt, error)
	// DeliverBatch sends every member in order and reports one outcome per member.
	// Vendor rejections are per item; a *domain.SystemicBatchError is returned
	// together with the outcomes gathered before delivery stopped.
	DeliverBatch(ctx context.Context, b *domain.NotificationBatch) (*BatchResult, error)
}

// ItemOutcome is the result of delivering one batch member
type ItemOutcome struct {
	Notification *domain.Notification
	Receipt      *domain.Receipt
	Err          error
}

func (o ItemOutcome) Succeeded() bool { return o.Err == nil }

// BatchResult lists outcomes in the batch's delivery order.
// Members after a systemic failure have no outcome.
type BatchResult struct {
	BatchID  domain.BatchID
	Outcomes []ItemOutcome
}

// Counts returns the number of delivered and rejected members
func (r *BatchResult) Counts() (succeeded, failed int) {
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}
	return succeeded, failed
}

// ChannelStrategy is the Strategy for one channel backed by a vendor.
// The limiter key is the channel name, so concurrent batches of a channel share one window.
type ChannelStrategy struct {
	channel domain.Channel
	caps    domain.Capabilities
	vendor  domain.Vendor
	limiter Limiter
	logger  *slog.Logger
}

var _ Strategy = (*ChannelStrategy)(nil)

// NewChannelStrategy creates a strategy; limiter may be nil only when the channel is not rate limited
func NewChannelStrategy(channel domain.Channel, caps domain.Capabilities, vendor domain.Vendor, limiter Limiter, logger *slog.Logger) (*ChannelStrategy, error) {
	if !channel.IsValid() {
		return nil, domain.NewValidationError("channel", "unsupported channel: "+string(channel))
	}
	if vendor == nil {
		return nil, fmt.Errorf("vendor is required for channel %s", channel)
	}
	if caps.RequiresRateLimiting && limiter == nil {
		return nil, fmt.Errorf("rate limiter is required for channel %s", channel)
	}

	return &ChannelStrategy{
		channel: channel,
		caps:    caps,
		vendor:  vendor,
		limiter: limiter,
		logger:  logger.With("channel", channel),
	}, nil
}

func (s *ChannelStrategy) Channel() domain.Channel           { return s.channel }
func (s *ChannelStrategy) Capabilities() domain.Capabilities { return s.caps }
func (s *ChannelStrategy) SupportsBatch() bool               { return s.caps.SupportsBatchDelivery }

func (s *ChannelStrategy) DeliverSingle(ctx context.Context, n *domain.Notification) (*domain.Receipt, error) {
	if err := s.admit(ctx); err != nil {
		return nil, err
	}
	return s.send(ctx, n)
}

func (s *ChannelStrategy) DeliverBatch(ctx context.Context, b *domain.NotificationBatch) (*BatchResult, error) {
	if !s.SupportsBatch() {
		return nil, fmt.Errorf("%w: %s", domain.ErrBatchNotSupported, s.channel)
	}
	if b.Channel() != s.channel {
		return nil, domain.NewValidationError("channel",
			fmt.Sprintf("batch channel %s does not match strategy channel %s", b.Channel(), s.channel))
	}

	if bv, ok := s.vendor.(domain.BatchVendor); ok && !s.caps.RequiresRateLimiting {
		return s.deliverBulk(ctx, bv, b)
	}

	members := b.Notifications()
	result := &BatchResult{BatchID: b.ID(), Outcomes: make([]ItemOutcome, 0, len(members))}

	for _, n := range members {
		if err := ctx.Err(); err != nil {
			return result, &domain.SystemicBatchError{BatchID: b.ID(), Err: err}
		}
		if err := s.admit(ctx); err != nil {
			return result, &domain.SystemicBatchError{BatchID: b.ID(), Err: err}
		}

		receipt, err := s.send(ctx, n)
		if err != nil {
			s.logger.Warn("batch item rejected",
				"batch_id", b.ID(),
				"notification_id", n.ID(),
				"error", err,
			)
		}
		result.Outcomes = append(result.Outcomes, ItemOutcome{Notification: n, Receipt: receipt, Err: err})
	}

	return result, nil
}

// deliverBulk uses the vendor's native batch call
func (s *ChannelStrategy) deliverBulk(ctx context.Context, bv domain.BatchVendor, b *domain.NotificationBatch) (*BatchResult, error) {
	members := b.Notifications()
	result := &BatchResult{BatchID: b.ID(), Outcomes: make([]ItemOutcome, 0, len(members))}

	outcomes, err := bv.SendBatch(ctx, members)
	for i, o := range outcomes {
		if i >= len(members) {
			break
		}
		item := ItemOutcome{Notification: members[i], Receipt: o.Receipt}
		if o.Err != nil {
			item.Err = domain.NewDeliveryError(members[i], o.Err)
		}
		result.Outcomes = append(result.Outcomes, item)
	}
	if err != nil {
		return result, &domain.SystemicBatchError{BatchID: b.ID(), Err: err}
	}
	if len(result.Outcomes) < len(members) {
		return result, &domain.SystemicBatchError{
			BatchID: b.ID(),
			Err:     fmt.Errorf("vendor returned %d outcomes for %d notifications", len(outcomes), len(members)),
		}
	}
	return result, nil
}

func (s *ChannelStrategy) admit(ctx context.Context) error {
	if !s.caps.RequiresRateLimiting {
		return nil
	}
	if err := s.limiter.CheckAndWaitIfNeeded(ctx, string(s.channel)); err != nil {
		return fmt.Errorf("failed to pass rate limit: %w", err)
	}
	return nil
}

func (s *ChannelStrategy) send(ctx context.Context, n *domain.Notification) (*domain.Receipt, error) {
	receipt, err := s.vendor.Send(ctx, n)
	if err != nil {
		return nil, domain.NewDeliveryError(n, err)
	}
	return receipt, nil
}
