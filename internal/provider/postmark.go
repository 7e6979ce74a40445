package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mrz1836/postmark"

	"github.com/insider-one/notification-dispatcher/internal/config"
	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// Postmark accepts at most 500 messages per batch call
const postmarkMaxBatch = 500

var ErrInvalidPostmarkConfig = errors.New("invalid postmark configuration")

// PostmarkProvider sends email through the Postmark API and supports native batch sends
type PostmarkProvider struct {
	client  *postmark.Client
	from    string
	replyTo string
}

var _ domain.BatchVendor = (*PostmarkProvider)(nil)

// NewPostmarkProvider creates a new PostmarkProvider
func NewPostmarkProvider(cfg config.EmailConfig) (*PostmarkProvider, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: server token is required", ErrInvalidPostmarkConfig)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: sender address is required", ErrInvalidPostmarkConfig)
	}

	return &PostmarkProvider{
		client:  postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		from:    cfg.From,
		replyTo: cfg.ReplyTo,
	}, nil
}

// Send delivers one email
func (p *PostmarkProvider) Send(ctx context.Context, n *domain.Notification) (*domain.Receipt, error) {
	resp, err := p.client.SendEmail(ctx, p.email(n))
	if err != nil {
		return nil, domain.NewVendorError(0, fmt.Sprintf("postmark request failed: %v", err), true)
	}
	return postmarkReceipt(resp)
}

// SendBatch delivers emails in chunks. A chunk that fails as a whole fails
// every item of that chunk; later chunks are still attempted.
func (p *PostmarkProvider) SendBatch(ctx context.Context, ns []*domain.Notification) ([]domain.VendorOutcome, error) {
	outcomes := make([]domain.VendorOutcome, 0, len(ns))

	for start := 0; start < len(ns); start += postmarkMaxBatch {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		chunk := ns[start:min(start+postmarkMaxBatch, len(ns))]
		emails := make([]postmark.Email, len(chunk))
		for i, n := range chunk {
			emails[i] = p.email(n)
		}

		responses, err := p.client.SendEmailBatch(ctx, emails)
		if err != nil {
			verr := domain.NewVendorError(0, fmt.Sprintf("postmark batch request failed: %v", err), true)
			for range chunk {
				outcomes = append(outcomes, domain.VendorOutcome{Err: verr})
			}
			continue
		}

		for i := range chunk {
			if i >= len(responses) {
				outcomes = append(outcomes, domain.VendorOutcome{
					Err: domain.NewVendorError(0, "missing response for message", false),
				})
				continue
			}
			receipt, err := postmarkReceipt(responses[i])
			outcomes = append(outcomes, domain.VendorOutcome{Receipt: receipt, Err: err})
		}
	}

	return outcomes, nil
}

func (p *PostmarkProvider) email(n *domain.Notification) postmark.Email {
	content := n.Content()
	return postmark.Email{
		From:       p.from,
		ReplyTo:    p.replyTo,
		To:         n.ContactInfo().Format(),
		Subject:    subject(content),
		Tag:        "notification",
		TextBody:   content.Body(),
		HTMLBody:   htmlBody(content.Body()),
		TrackOpens: true,
	}
}

func postmarkReceipt(resp postmark.EmailResponse) (*domain.Receipt, error) {
	if resp.ErrorCode > 0 {
		// 406 inactive recipient and 300 invalid email are permanent
		return nil, domain.NewVendorError(int(resp.ErrorCode), resp.Message, false)
	}
	ts := resp.SubmittedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &domain.Receipt{MessageID: resp.MessageID, Timestamp: ts}, nil
}
