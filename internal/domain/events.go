package domain

import (
	"context"
	"time"
)

type EventType string

const (
	EventNotificationSent      EventType = "notification.sent"
	EventNotificationFailed    EventType = "notification.failed"
	EventNotificationDelivered EventType = "notification.delivered"
	EventBatchCompleted        EventType = "batch.completed"
)

// Event is a fact published by the dispatch engine
type Event interface {
	EventType() EventType
	AggregateID() string
	OccurredAt() time.Time
}

type NotificationSentEvent struct {
	NotificationID NotificationID `json:"notification_id"`
	RecipientID    UserID         `json:"recipient_id"`
	BatchID        BatchID        `json:"batch_id,omitempty"`
	Channel        Channel        `json:"channel"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	SentAt         time.Time      `json:"sent_at"`
}

func (e NotificationSentEvent) EventType() EventType  { return EventNotificationSent }
func (e NotificationSentEvent) AggregateID() string   { return e.NotificationID.String() }
func (e NotificationSentEvent) OccurredAt() time.Time { return e.SentAt }

type NotificationFailedEvent struct {
	NotificationID NotificationID `json:"notification_id"`
	RecipientID    UserID         `json:"recipient_id"`
	BatchID        BatchID        `json:"batch_id,omitempty"`
	Channel        Channel        `json:"channel"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	ErrorMessage   string         `json:"error_message"`
	FailedAt       time.Time      `json:"failed_at"`
}

func (e NotificationFailedEvent) EventType() EventType  { return EventNotificationFailed }
func (e NotificationFailedEvent) AggregateID() string   { return e.NotificationID.String() }
func (e NotificationFailedEvent) OccurredAt() time.Time { return e.FailedAt }

type NotificationDeliveredEvent struct {
	NotificationID NotificationID `json:"notification_id"`
	RecipientID    UserID         `json:"recipient_id"`
	Channel        Channel        `json:"channel"`
	DeliveredAt    time.Time      `json:"delivered_at"`
}

func (e NotificationDeliveredEvent) EventType() EventType  { return EventNotificationDelivered }
func (e NotificationDeliveredEvent) AggregateID() string   { return e.NotificationID.String() }
func (e NotificationDeliveredEvent) OccurredAt() time.Time { return e.DeliveredAt }

// NewSentEvent builds the event for a notification that reached SENT
func NewSentEvent(n *Notification) NotificationSentEvent {
	sentAt, ok := n.SentAt()
	if !ok {
		sentAt = time.Now().UTC()
	}
	return NotificationSentEvent{
		NotificationID: n.ID(),
		RecipientID:    n.RecipientID(),
		BatchID:        n.BatchID(),
		Channel:        n.Channel(),
		Title:          n.Content().Title(),
		Body:           n.Content().Body(),
		SentAt:         sentAt,
	}
}

// NewFailedEvent builds the event for a notification that reached FAILED
func NewFailedEvent(n *Notification) NotificationFailedEvent {
	return NotificationFailedEvent{
		NotificationID: n.ID(),
		RecipientID:    n.RecipientID(),
		BatchID:        n.BatchID(),
		Channel:        n.Channel(),
		Title:          n.Content().Title(),
		Body:           n.Content().Body(),
		ErrorMessage:   n.ErrorMessage(),
		FailedAt:       time.Now().UTC(),
	}
}

// BatchCompletedEvent signals that a batch reached COMPLETED or FAILED
type BatchCompletedEvent struct {
	BatchID      BatchID     `json:"batch_id"`
	Channel      Channel     `json:"channel"`
	Status       BatchStatus `json:"status"`
	Total        int         `json:"total"`
	Sent         int         `json:"sent"`
	Failed       int         `json:"failed"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CompletedAt  time.Time   `json:"completed_at"`
}

func (e BatchCompletedEvent) EventType() EventType  { return EventBatchCompleted }
func (e BatchCompletedEvent) AggregateID() string   { return e.BatchID.String() }
func (e BatchCompletedEvent) OccurredAt() time.Time { return e.CompletedAt }

// NewBatchCompletedEvent counts member outcomes of a finished batch
func NewBatchCompletedEvent(b *NotificationBatch) BatchCompletedEvent {
	e := BatchCompletedEvent{
		BatchID:      b.ID(),
		Channel:      b.Channel(),
		Status:       b.Status(),
		Total:        b.Size(),
		ErrorMessage: b.ErrorMessage(),
		CompletedAt:  time.Now().UTC(),
	}
	if t, ok := b.CompletedAt(); ok {
		e.CompletedAt = t
	}
	for _, n := range b.notifications {
		switch n.Status() {
		case StatusSent, StatusDelivered:
			e.Sent++
		case StatusFailed:
			e.Failed++
		}
	}
	return e
}

func NewDeliveredEvent(n *Notification) NotificationDeliveredEvent {
	return NotificationDeliveredEvent{
		NotificationID: n.ID(),
		RecipientID:    n.RecipientID(),
		Channel:        n.Channel(),
		DeliveredAt:    time.Now().UTC(),
	}
}

// EventPublisher hands events to the read side.
// Publishing is best-effort; handlers run outside the caller's transaction.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}
