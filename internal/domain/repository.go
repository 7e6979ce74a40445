package domain

import (
	"context"
	"time"
)

// NotificationRepository persists Notification aggregates
type NotificationRepository interface {
	Save(ctx context.Context, n *Notification) error
	Update(ctx context.Context, n *Notification) error
	GetByID(ctx context.Context, id NotificationID) (*Notification, error)
}

// BatchRepository persists NotificationBatch aggregates together with their notifications
type BatchRepository interface {
	Save(ctx context.Context, b *NotificationBatch) error
	Update(ctx context.Context, b *NotificationBatch) error
	GetByID(ctx context.Context, id BatchID) (*NotificationBatch, error)
	// Claim moves a PENDING batch to PROCESSING and reports whether this caller won it
	Claim(ctx context.Context, id BatchID) (bool, error)
	// ListStale returns batches in the given status created before the cutoff
	ListStale(ctx context.Context, status BatchStatus, createdBefore time.Time, limit int) ([]*NotificationBatch, error)
}

// HistoryEntry is one row of the per-notification history read model
type HistoryEntry struct {
	NotificationID NotificationID     `json:"notification_id"`
	RecipientID    UserID             `json:"recipient_id"`
	BatchID        BatchID            `json:"batch_id,omitempty"`
	Channel        Channel            `json:"channel"`
	Title          string             `json:"title"`
	Body           string             `json:"body"`
	Status         NotificationStatus `json:"status"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	SentAt         *time.Time         `json:"sent_at,omitempty"`
	DeliveredAt    *time.Time         `json:"delivered_at,omitempty"`
	FailedAt       *time.Time         `json:"failed_at,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// HistoryRepository stores the history read model keyed by notification id
type HistoryRepository interface {
	Upsert(ctx context.Context, entry HistoryEntry) error
	GetByNotificationID(ctx context.Context, id NotificationID) (*HistoryEntry, error)
}

// DailyStats aggregates outcomes of one channel on one UTC day
type DailyStats struct {
	Channel   Channel `json:"channel"`
	Date      string  `json:"date"`
	Sent      int64   `json:"sent"`
	Failed    int64   `json:"failed"`
	Delivered int64   `json:"delivered"`
}

// SuccessRate is sent / (sent + failed), as a percentage
func (s DailyStats) SuccessRate() float64 {
	total := s.Sent + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Sent) / float64(total) * 100
}

type StatsCounter string

const (
	CounterSent      StatsCounter = "sent"
	CounterFailed    StatsCounter = "failed"
	CounterDelivered StatsCounter = "delivered"
)

// StatsRepository stores per-channel daily counters
type StatsRepository interface {
	Increment(ctx context.Context, channel Channel, day time.Time, counter StatsCounter) error
	Get(ctx context.Context, channel Channel, day time.Time) (*DailyStats, error)
}

// StatsDate formats the UTC day used as the stats key
func StatsDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
