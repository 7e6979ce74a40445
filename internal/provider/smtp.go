package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/insider-one/notification-dispatcher/internal/config"
	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// mailDialer is satisfied by *gomail.Dialer
type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPProvider sends email notifications over SMTP
type SMTPProvider struct {
	dialer  mailDialer
	from    string
	replyTo string
	host    string
}

var _ domain.Vendor = (*SMTPProvider)(nil)

// NewSMTPProvider creates a new SMTPProvider
func NewSMTPProvider(cfg config.EmailConfig) *SMTPProvider {
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	d.SSL = cfg.SMTPUseSSL
	d.TLSConfig = &tls.Config{
		ServerName: cfg.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	return &SMTPProvider{
		dialer:  d,
		from:    cfg.From,
		replyTo: cfg.ReplyTo,
		host:    cfg.SMTPHost,
	}
}

// Send delivers one message. gomail has no context support, so cancellation
// is only honoured before the connection is opened.
func (p *SMTPProvider) Send(ctx context.Context, n *domain.Notification) (*domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), p.host)
	m := p.message(n, messageID)

	if err := p.dialer.DialAndSend(m); err != nil {
		return nil, domain.NewVendorError(0, fmt.Sprintf("smtp send failed: %v", err), true)
	}

	return &domain.Receipt{
		MessageID: messageID,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (p *SMTPProvider) message(n *domain.Notification, messageID string) *gomail.Message {
	content := n.Content()

	m := gomail.NewMessage()
	m.SetHeader("From", p.from)
	m.SetHeader("To", n.ContactInfo().Format())
	m.SetHeader("Subject", subject(content))
	m.SetHeader("Message-ID", messageID)
	if p.replyTo != "" {
		m.SetHeader("Reply-To", p.replyTo)
	}
	m.SetBody("text/plain", content.Body())
	m.AddAlternative("text/html", htmlBody(content.Body()))
	return m
}

func subject(c domain.NotificationContent) string {
	if c.Title() != "" {
		return c.Title()
	}
	line, _, _ := strings.Cut(c.Body(), "\n")
	if r := []rune(line); len(r) > 78 {
		return string(r[:78])
	}
	return line
}

func htmlBody(body string) string {
	return "<p>" + strings.ReplaceAll(html.EscapeString(body), "\n", "<br>") + "</p>"
}
