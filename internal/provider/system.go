package provider

import (
	"context"
	"time"

	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// InAppMessage is pushed to connected clients of the recipient
type InAppMessage struct {
	NotificationID domain.NotificationID `json:"notification_id"`
	Title          string                `json:"title,omitempty"`
	Body           string                `json:"body"`
	Metadata       map[string]any        `json:"metadata,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// InAppPusher delivers a message to the live sessions of one user and
// reports how many sessions received it
type InAppPusher interface {
	PushToUser(userID domain.UserID, msg InAppMessage) int
}

// SystemProvider delivers in-app notifications. The notification row is the
// inbox, so a send is delivered as soon as it is recorded; live sessions get a push.
type SystemProvider struct {
	pusher InAppPusher
}

var _ domain.Vendor = (*SystemProvider)(nil)

// NewSystemProvider creates a new SystemProvider
func NewSystemProvider(pusher InAppPusher) *SystemProvider {
	return &SystemProvider{pusher: pusher}
}

func (p *SystemProvider) Send(ctx context.Context, n *domain.Notification) (*domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := n.Content()
	p.pusher.PushToUser(n.RecipientID(), InAppMessage{
		NotificationID: n.ID(),
		Title:          content.Title(),
		Body:           content.Body(),
		Metadata:       content.Metadata(),
		CreatedAt:      n.CreatedAt(),
	})

	return &domain.Receipt{
		MessageID: n.ID().String(),
		Delivered: true,
		Timestamp: time.Now().UTC(),
	}, nil
}
