package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// BrevoProvider sends emails via Brevo (formerly Sendinblue) API.
type BrevoProvider struct {
	api      *jsonAPI
	fromAddr string
	fromName string
}

// NewBrevoProvider creates a new Brevo email provider.
func NewBrevoProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		api: &jsonAPI{
			client:   &http.Client{Timeout: 30 * time.Second},
			logger:   logger,
			name:     "Brevo",
			endpoint: brevoEndpoint,
			auth:     func(r *http.Request) { r.Header.Set("api-key", apiKey) },
			attempts: 3,
			delay:    time.Second,
		},
		fromAddr: fromAddr,
		fromName: fromName,
	}
}

type brevoSendRequest struct {
	Headers map[string]string `json:"headers,omitempty"`
	Sender  brevoContact      `json:"sender"`
	Subject string            `json:"subject"`
	HTML    string            `json:"htmlContent"`
	Text    string            `json:"textContent,omitempty"`
	To      []brevoContact    `json:"to"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoSendResponse struct {
	MessageID string `json:"messageId"`
}

// Send sends an email via Brevo API.
func (b *BrevoProvider) Send(ctx context.Context, msg Message) (string, error) {
	req := brevoSendRequest{
		Sender:  brevoContact{Email: b.fromAddr, Name: b.fromName},
		To:      []brevoContact{{Email: msg.To}},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	}
	if msg.ListUnsubscribe != "" {
		req.Headers = map[string]string{
			"List-Unsubscribe":      "<" + msg.ListUnsubscribe + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
	}

	var resp brevoSendResponse
	if err := b.api.post(ctx, msg.To, req, &resp); err != nil {
		return "", fmt.Errorf("brevo send: %w", err)
	}
	return resp.MessageID, nil
}
