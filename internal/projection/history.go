package projection

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// HistoryProjection keeps one history row per notification
type HistoryProjection struct {
	repo   domain.HistoryRepository
	logger *slog.Logger
}

// NewHistoryProjection creates a new HistoryProjection
func NewHistoryProjection(repo domain.HistoryRepository, logger *slog.Logger) *HistoryProjection {
	return &HistoryProjection{repo: repo, logger: logger}
}

// Handle records sent, failed and delivered events; other events are ignored
func (p *HistoryProjection) Handle(ctx context.Context, event domain.Event) error {
	entry, ok := historyEntry(event)
	if !ok {
		return nil
	}
	if err := p.repo.Upsert(ctx, entry); err != nil {
		return fmt.Errorf("failed to project %s for %s: %w", event.EventType(), event.AggregateID(), err)
	}
	p.logger.Debug("history updated", "notification_id", entry.NotificationID, "status", entry.Status)
	return nil
}

func historyEntry(event domain.Event) (domain.HistoryEntry, bool) {
	now := time.Now().UTC()

	switch e := event.(type) {
	case domain.NotificationSentEvent:
		return domain.HistoryEntry{
			NotificationID: e.NotificationID,
			RecipientID:    e.RecipientID,
			BatchID:        e.BatchID,
			Channel:        e.Channel,
			Title:          e.Title,
			Body:           e.Body,
			Status:         domain.StatusSent,
			SentAt:         &e.SentAt,
			UpdatedAt:      now,
		}, true
	case domain.NotificationFailedEvent:
		return domain.HistoryEntry{
			NotificationID: e.NotificationID,
			RecipientID:    e.RecipientID,
			BatchID:        e.BatchID,
			Channel:        e.Channel,
			Title:          e.Title,
			Body:           e.Body,
			Status:         domain.StatusFailed,
			ErrorMessage:   e.ErrorMessage,
			FailedAt:       &e.FailedAt,
			UpdatedAt:      now,
		}, true
	case domain.NotificationDeliveredEvent:
		return domain.HistoryEntry{
			NotificationID: e.NotificationID,
			RecipientID:    e.RecipientID,
			Channel:        e.Channel,
			Status:         domain.StatusDelivered,
			DeliveredAt:    &e.DeliveredAt,
			UpdatedAt:      now,
		}, true
	}
	return domain.HistoryEntry{}, false
}
