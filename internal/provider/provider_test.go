package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/insider-one/notification-dispatcher/internal/config"
	"github.com/insider-one/notification-dispatcher/internal/domain"
)

const recipient = domain.UserID("3f1c2d4e-5a6b-4c7d-8e9f-0a1b2c3d4e5f")

func newNotification(t *testing.T, channel domain.Channel, contact, title, body string) *domain.Notification {
	t.Helper()
	content, err := domain.NewNotificationContent(title, body, map[string]any{"k": "v"})
	require.NoError(t, err)
	info, err := domain.ParseContactInfo(channel, contact)
	require.NoError(t, err)
	n, err := domain.NewNotification(recipient, content, info)
	require.NoError(t, err)
	return n
}

func TestWhatsAppProvider_Send(t *testing.T) {
	var got whatsAppRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/12345/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.abc"}]}`))
	}))
	defer server.Close()

	p := NewWhatsAppProvider(config.WhatsAppConfig{
		APIURL:        server.URL + "/",
		PhoneNumberID: "12345",
		AccessToken:   "secret",
		Timeout:       time.Second,
	})
	n := newNotification(t, domain.ChannelWhatsApp, "+55 11 98765 4321", "Hello", "Your order shipped")

	receipt, err := p.Send(context.Background(), n)
	require.NoError(t, err)

	assert.Equal(t, "wamid.abc", receipt.MessageID)
	assert.False(t, receipt.Delivered)
	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "5511987654321", got.To)
	assert.Equal(t, "*Hello*\n\nYour order shipped", got.Text.Body)
}

func TestWhatsAppProvider_SendErrors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantRetryable bool
		wantMessage   string
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down","code":130429}}`, true, "slow down"},
		{"server error", http.StatusBadGateway, `upstream`, true, "upstream"},
		{"bad recipient", http.StatusBadRequest, `{"error":{"message":"invalid parameter","code":100}}`, false, "invalid parameter"},
		{"no message id", http.StatusOK, `{"messages":[]}`, false, "response carries no message id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := NewWhatsAppProvider(config.WhatsAppConfig{APIURL: server.URL, PhoneNumberID: "1", Timeout: time.Second})
			_, err := p.Send(context.Background(), newNotification(t, domain.ChannelWhatsApp, "5511987654321", "", "hi"))

			var verr domain.VendorError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.status, verr.StatusCode)
			assert.Equal(t, tt.wantRetryable, verr.Retryable)
			assert.Equal(t, tt.wantMessage, verr.Message)
		})
	}
}

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestSMTPProvider_Send(t *testing.T) {
	dialer := &fakeDialer{}
	p := &SMTPProvider{dialer: dialer, from: "noreply@example.com", replyTo: "support@example.com", host: "mail.example.com"}
	n := newNotification(t, domain.ChannelEmail, "User@Example.com", "", "First line\nsecond <line>")

	receipt, err := p.Send(context.Background(), n)
	require.NoError(t, err)

	require.Len(t, dialer.sent, 1)
	m := dialer.sent[0]
	assert.Equal(t, []string{"user@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"First line"}, m.GetHeader("Subject"))
	assert.Equal(t, []string{"support@example.com"}, m.GetHeader("Reply-To"))
	assert.Equal(t, []string{receipt.MessageID}, m.GetHeader("Message-ID"))
	assert.Contains(t, receipt.MessageID, "@mail.example.com>")
}

func TestSMTPProvider_SendFailure(t *testing.T) {
	p := &SMTPProvider{dialer: &fakeDialer{err: errors.New("connection refused")}, from: "a@b.io", host: "h"}

	_, err := p.Send(context.Background(), newNotification(t, domain.ChannelEmail, "a@b.io", "T", "B"))

	var verr domain.VendorError
	require.ErrorAs(t, err, &verr)
	assert.True(t, verr.Retryable)
	assert.Contains(t, verr.Message, "connection refused")
}

func TestSMTPProvider_CancelledContext(t *testing.T) {
	dialer := &fakeDialer{}
	p := &SMTPProvider{dialer: dialer, from: "a@b.io", host: "h"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Send(ctx, newNotification(t, domain.ChannelEmail, "a@b.io", "T", "B"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dialer.sent)
}

func TestNewPostmarkProvider_InvalidConfig(t *testing.T) {
	_, err := NewPostmarkProvider(config.EmailConfig{From: "a@b.io"})
	assert.ErrorIs(t, err, ErrInvalidPostmarkConfig)

	_, err = NewPostmarkProvider(config.EmailConfig{PostmarkServerToken: "token"})
	assert.ErrorIs(t, err, ErrInvalidPostmarkConfig)

	p, err := NewPostmarkProvider(config.EmailConfig{PostmarkServerToken: "token", From: "a@b.io"})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestPostmarkProvider_SendBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email/batch", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"To":"a@b.io","MessageID":"m-1","ErrorCode":0,"Message":"OK"},
			{"To":"c@d.io","ErrorCode":406,"Message":"Inactive recipient"}
		]`))
	}))
	defer server.Close()

	p, err := NewPostmarkProvider(config.EmailConfig{PostmarkServerToken: "token", From: "noreply@example.com"})
	require.NoError(t, err)
	p.client.BaseURL = server.URL

	outcomes, err := p.SendBatch(context.Background(), []*domain.Notification{
		newNotification(t, domain.ChannelEmail, "a@b.io", "T", "B"),
		newNotification(t, domain.ChannelEmail, "c@d.io", "T", "B"),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, "m-1", outcomes[0].Receipt.MessageID)

	var verr domain.VendorError
	require.ErrorAs(t, outcomes[1].Err, &verr)
	assert.Equal(t, 406, verr.StatusCode)
	assert.False(t, verr.Retryable)
}

type fakePusher struct {
	user domain.UserID
	msg  InAppMessage
}

func (p *fakePusher) PushToUser(userID domain.UserID, msg InAppMessage) int {
	p.user, p.msg = userID, msg
	return 1
}

func TestSystemProvider_Send(t *testing.T) {
	pusher := &fakePusher{}
	p := NewSystemProvider(pusher)
	n := newNotification(t, domain.ChannelSystem, recipient.String(), "Maintenance", "Tonight at 22:00")

	receipt, err := p.Send(context.Background(), n)
	require.NoError(t, err)

	assert.True(t, receipt.Delivered)
	assert.Equal(t, n.ID().String(), receipt.MessageID)
	assert.Equal(t, recipient, pusher.user)
	assert.Equal(t, "Tonight at 22:00", pusher.msg.Body)
	assert.Equal(t, map[string]any{"k": "v"}, pusher.msg.Metadata)
}
