package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NotificationBatch owns an ordered list of notifications sharing one channel
type NotificationBatch struct {
	id            BatchID
	channel       Channel
	notifications []*Notification
	status        BatchStatus
	createdAt     time.Time
	completedAt   *time.Time
	errorMsg      string
}

// NewNotificationBatch creates a PENDING batch and takes ownership of the notifications
func NewNotificationBatch(channel Channel, notifications []*Notification) (*NotificationBatch, error) {
	return newBatch(NewBatchID(), channel, notifications)
}

// NewNotificationBatchWithID creates a PENDING batch with an externally supplied id
func NewNotificationBatchWithID(id string, channel Channel, notifications []*Notification) (*NotificationBatch, error) {
	bid, err := ParseBatchID(id)
	if err != nil {
		return nil, err
	}
	return newBatch(bid, channel, notifications)
}

func newBatch(id BatchID, channel Channel, notifications []*Notification) (*NotificationBatch, error) {
	if !channel.IsValid() {
		return nil, NewValidationError("channel", "unsupported channel: "+string(channel))
	}
	if len(notifications) == 0 {
		return nil, NewValidationError("recipients", "batch requires at least one notification")
	}

	seen := make(map[NotificationID]struct{}, len(notifications))
	for i, n := range notifications {
		if n == nil {
			return nil, NewValidationError("notifications", fmt.Sprintf("notification %d is nil", i))
		}
		if n.Channel() != channel {
			return nil, NewValidationError("notifications",
				fmt.Sprintf("notification %s has channel %s, batch channel is %s", n.ID(), n.Channel(), channel))
		}
		if n.batchID != "" && n.batchID != id {
			return nil, NewValidationError("notifications",
				fmt.Sprintf("notification %s already belongs to batch %s", n.ID(), n.batchID))
		}
		if _, dup := seen[n.ID()]; dup {
			return nil, NewValidationError("notifications", fmt.Sprintf("duplicate notification %s", n.ID()))
		}
		seen[n.ID()] = struct{}{}
	}

	owned := make([]*Notification, len(notifications))
	copy(owned, notifications)
	for _, n := range owned {
		n.batchID = id
	}

	return &NotificationBatch{
		id:            id,
		channel:       channel,
		notifications: owned,
		status:        BatchStatusPending,
		createdAt:     time.Now().UTC(),
	}, nil
}

func (b *NotificationBatch) ID() BatchID          { return b.id }
func (b *NotificationBatch) Channel() Channel     { return b.channel }
func (b *NotificationBatch) Status() BatchStatus  { return b.status }
func (b *NotificationBatch) CreatedAt() time.Time { return b.createdAt }
func (b *NotificationBatch) Size() int            { return len(b.notifications) }

// ErrorMessage is set only on FAILED
func (b *NotificationBatch) ErrorMessage() string {
	return b.errorMsg
}

// Notifications returns the owned notifications in delivery order.
// The slice is a copy; the elements are the owned aggregates.
func (b *NotificationBatch) Notifications() []*Notification {
	out := make([]*Notification, len(b.notifications))
	copy(out, b.notifications)
	return out
}

func (b *NotificationBatch) CompletedAt() (t time.Time, ok bool) {
	if b.completedAt == nil {
		return time.Time{}, false
	}
	return *b.completedAt, true
}

// MarkAsProcessing transitions PENDING -> PROCESSING
func (b *NotificationBatch) MarkAsProcessing() error {
	return b.transition(BatchStatusProcessing)
}

// MarkAsCompleted transitions PROCESSING -> COMPLETED
func (b *NotificationBatch) MarkAsCompleted() error {
	if err := b.transition(BatchStatusCompleted); err != nil {
		return err
	}
	b.complete()
	return nil
}

// MarkAsFailed transitions PROCESSING -> FAILED
func (b *NotificationBatch) MarkAsFailed(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return NewValidationError("error", "failure reason is required")
	}
	if err := b.transition(BatchStatusFailed); err != nil {
		return err
	}
	b.errorMsg = reason
	b.complete()
	return nil
}

func (b *NotificationBatch) complete() {
	now := time.Now().UTC()
	b.completedAt = &now
}

func (b *NotificationBatch) transition(next BatchStatus) error {
	if !b.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: batch %s from %s to %s", ErrInvalidTransition, b.id, b.status, next)
	}
	b.status = next
	return nil
}

// BatchSnapshot is the flat representation used for persistence and APIs
type BatchSnapshot struct {
	ID            string                 `json:"id"`
	Channel       Channel                `json:"channel"`
	Status        BatchStatus            `json:"status"`
	CreatedAt     time.Time              `json:"created_at"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Notifications []NotificationSnapshot `json:"notifications"`
}

func (b *NotificationBatch) Snapshot() BatchSnapshot {
	s := BatchSnapshot{
		ID:            b.id.String(),
		Channel:       b.channel,
		Status:        b.status,
		CreatedAt:     b.createdAt,
		Error:         b.errorMsg,
		Notifications: make([]NotificationSnapshot, 0, len(b.notifications)),
	}
	if b.completedAt != nil {
		t := *b.completedAt
		s.CompletedAt = &t
	}
	for _, n := range b.notifications {
		s.Notifications = append(s.Notifications, n.Snapshot())
	}
	return s
}

func (b *NotificationBatch) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}

// RestoreBatch rebuilds a batch and its notifications from persisted state
func RestoreBatch(s BatchSnapshot) (*NotificationBatch, error) {
	if !s.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown batch status %q", ErrCorruptState, s.Status)
	}
	notifications := make([]*Notification, 0, len(s.Notifications))
	for _, ns := range s.Notifications {
		n, err := RestoreNotification(ns)
		if err != nil {
			return nil, err
		}
		if n.channel != s.Channel {
			return nil, fmt.Errorf("%w: notification %s channel %s in %s batch", ErrCorruptState, n.id, n.channel, s.Channel)
		}
		n.batchID = BatchID(s.ID)
		notifications = append(notifications, n)
	}

	b := &NotificationBatch{
		id:            BatchID(s.ID),
		channel:       s.Channel,
		notifications: notifications,
		status:        s.Status,
		createdAt:     s.CreatedAt,
		errorMsg:      s.Error,
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		b.completedAt = &t
	}
	return b, nil
}
