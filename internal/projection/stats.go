package projection

import (
	"context"
	"fmt"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// StatsProjection counts outcomes per channel and UTC day
type StatsProjection struct {
	repo domain.StatsRepository
}

// NewStatsProjection creates a new StatsProjection
func NewStatsProjection(repo domain.StatsRepository) *StatsProjection {
	return &StatsProjection{repo: repo}
}

// Handle bumps the counter matching the event; the event time selects the day
func (p *StatsProjection) Handle(ctx context.Context, event domain.Event) error {
	var (
		channel domain.Channel
		counter domain.StatsCounter
	)
	switch e := event.(type) {
	case domain.NotificationSentEvent:
		channel, counter = e.Channel, domain.CounterSent
	case domain.NotificationFailedEvent:
		channel, counter = e.Channel, domain.CounterFailed
	case domain.NotificationDeliveredEvent:
		channel, counter = e.Channel, domain.CounterDelivered
	default:
		return nil
	}

	if err := p.repo.Increment(ctx, channel, event.OccurredAt(), counter); err != nil {
		return fmt.Errorf("failed to count %s: %w", event.EventType(), err)
	}
	return nil
}
