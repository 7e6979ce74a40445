package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/insider-one/notification-dispatcher/internal/config"
	"github.com/insider-one/notification-dispatcher/internal/domain"
)

// WhatsAppProvider sends text messages through the WhatsApp Cloud API
type WhatsAppProvider struct {
	client        *http.Client
	baseURL       string
	phoneNumberID string
	accessToken   string
}

var _ domain.Vendor = (*WhatsAppProvider)(nil)

type whatsAppRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

type whatsAppText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// NewWhatsAppProvider creates a new WhatsAppProvider
func NewWhatsAppProvider(cfg config.WhatsAppConfig) *WhatsAppProvider {
	return &WhatsAppProvider{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:       strings.TrimRight(cfg.APIURL, "/"),
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
	}
}

// Send posts one text message to the recipient phone number
func (p *WhatsAppProvider) Send(ctx context.Context, n *domain.Notification) (*domain.Receipt, error) {
	body, err := json.Marshal(whatsAppRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               n.ContactInfo().Format(),
		Type:             "text",
		Text:             whatsAppText{Body: messageText(n.Content())},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", p.baseURL, p.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.accessToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, domain.NewVendorError(0, fmt.Sprintf("request failed: %v", err), true)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var parsed whatsAppResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		msg := string(respBody)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, domain.NewVendorError(resp.StatusCode, msg, retryable)
	}
	if len(parsed.Messages) == 0 {
		return nil, domain.NewVendorError(resp.StatusCode, "response carries no message id", false)
	}

	return &domain.Receipt{
		MessageID: parsed.Messages[0].ID,
		Timestamp: time.Now().UTC(),
	}, nil
}

// messageText renders the title as a bold first line when present
func messageText(c domain.NotificationContent) string {
	if c.Title() == "" {
		return c.Body()
	}
	return "*" + c.Title() + "*\n\n" + c.Body()
}
