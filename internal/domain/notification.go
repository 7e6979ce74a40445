package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Notification is the aggregate root for a single outbound message.
// Its status only changes through MarkAsSent, MarkAsDelivered and MarkAsFailed.
type Notification struct {
	id          NotificationID
	recipientID UserID
	batchID     BatchID
	content     NotificationContent
	channel     Channel
	contactInfo ContactInfo
	status      NotificationStatus
	createdAt   time.Time
	sentAt      *time.Time
	errorMsg    string
}

// NewNotification creates a PENDING notification with a generated id
func NewNotification(recipientID UserID, content NotificationContent, contactInfo ContactInfo) (*Notification, error) {
	return newNotification(NewNotificationID(), recipientID, content, contactInfo)
}

// NewNotificationWithID creates a PENDING notification with an externally supplied id
func NewNotificationWithID(id string, recipientID UserID, content NotificationContent, contactInfo ContactInfo) (*Notification, error) {
	nid, err := ParseNotificationID(id)
	if err != nil {
		return nil, err
	}
	return newNotification(nid, recipientID, content, contactInfo)
}

func newNotification(id NotificationID, recipientID UserID, content NotificationContent, contactInfo ContactInfo) (*Notification, error) {
	if contactInfo == nil {
		return nil, NewValidationError("contact_info", "contact info is required")
	}
	if err := validateID("recipient_id", string(recipientID)); err != nil {
		return nil, err
	}
	if content.Body() == "" {
		return nil, NewValidationError("body", "body is required")
	}
	if err := contactInfo.Validate(); err != nil {
		return nil, err
	}

	return &Notification{
		id:          id,
		recipientID: recipientID,
		content:     content,
		channel:     contactInfo.Channel(),
		contactInfo: contactInfo,
		status:      StatusPending,
		createdAt:   time.Now().UTC(),
	}, nil
}

func (n *Notification) ID() NotificationID           { return n.id }
func (n *Notification) RecipientID() UserID          { return n.recipientID }
func (n *Notification) BatchID() BatchID             { return n.batchID }
func (n *Notification) Content() NotificationContent { return n.content }
func (n *Notification) Channel() Channel             { return n.channel }
func (n *Notification) ContactInfo() ContactInfo     { return n.contactInfo }
func (n *Notification) Status() NotificationStatus   { return n.status }
func (n *Notification) CreatedAt() time.Time         { return n.createdAt }

// ErrorMessage is set only on FAILED
func (n *Notification) ErrorMessage() string {
	return n.errorMsg
}

// SentAt returns the send time; ok is false until the notification was sent
func (n *Notification) SentAt() (t time.Time, ok bool) {
	if n.sentAt == nil {
		return time.Time{}, false
	}
	return *n.sentAt, true
}

// MarkAsSent transitions PENDING -> SENT
func (n *Notification) MarkAsSent() error {
	if err := n.transition(StatusSent); err != nil {
		return err
	}
	now := time.Now().UTC()
	n.sentAt = &now
	return nil
}

// MarkAsDelivered transitions SENT -> DELIVERED
func (n *Notification) MarkAsDelivered() error {
	return n.transition(StatusDelivered)
}

// MarkAsFailed transitions to FAILED with a mandatory reason
func (n *Notification) MarkAsFailed(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return NewValidationError("error", "failure reason is required")
	}
	if err := n.transition(StatusFailed); err != nil {
		return err
	}
	n.errorMsg = reason
	return nil
}

func (n *Notification) transition(next NotificationStatus) error {
	if !n.status.CanTransitionTo(next) {
		return fmt.Errorf("%w: notification %s from %s to %s", ErrInvalidTransition, n.id, n.status, next)
	}
	n.status = next
	return nil
}

// NotificationSnapshot is the flat representation used for persistence and APIs
type NotificationSnapshot struct {
	ID          string             `json:"id"`
	RecipientID string             `json:"recipient_id"`
	BatchID     string             `json:"batch_id,omitempty"`
	Channel     Channel            `json:"channel"`
	ContactInfo string             `json:"contact_info"`
	Title       string             `json:"title"`
	Body        string             `json:"body"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	Status      NotificationStatus `json:"status"`
	CreatedAt   time.Time          `json:"created_at"`
	SentAt      *time.Time         `json:"sent_at,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// Snapshot exports the aggregate state
func (n *Notification) Snapshot() NotificationSnapshot {
	s := NotificationSnapshot{
		ID:          n.id.String(),
		RecipientID: n.recipientID.String(),
		BatchID:     n.batchID.String(),
		Channel:     n.channel,
		ContactInfo: n.contactInfo.Format(),
		Title:       n.content.Title(),
		Body:        n.content.Body(),
		Metadata:    n.content.Metadata(),
		Status:      n.status,
		CreatedAt:   n.createdAt,
		Error:       n.errorMsg,
	}
	if n.sentAt != nil {
		t := *n.sentAt
		s.SentAt = &t
	}
	return s
}

func (n *Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Snapshot())
}

// RestoreNotification rebuilds an aggregate from persisted state
func RestoreNotification(s NotificationSnapshot) (*Notification, error) {
	if !s.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrCorruptState, s.Status)
	}
	contactInfo, err := ParseContactInfo(s.Channel, s.ContactInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	content, err := NewNotificationContent(s.Title, s.Body, s.Metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if (s.Status == StatusFailed) != (s.Error != "") {
		return nil, fmt.Errorf("%w: error message present only on FAILED", ErrCorruptState)
	}

	n := &Notification{
		id:          NotificationID(s.ID),
		recipientID: UserID(s.RecipientID),
		batchID:     BatchID(s.BatchID),
		content:     content,
		channel:     s.Channel,
		contactInfo: contactInfo,
		status:      s.Status,
		createdAt:   s.CreatedAt,
		errorMsg:    s.Error,
	}
	if s.SentAt != nil {
		t := *s.SentAt
		n.sentAt = &t
	}
	return n, nil
}
