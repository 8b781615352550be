package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const mailjetEndpoint = "https://api.mailjet.com/v3.1/send"

// MailjetProvider sends emails via the Mailjet Send API v3.1.
type MailjetProvider struct {
	api      *jsonAPI
	fromAddr string
	fromName string
}

// NewMailjetProvider creates a new Mailjet email provider.
func NewMailjetProvider(apiKey, secretKey, fromAddr, fromName string, logger *slog.Logger) *MailjetProvider {
	return &MailjetProvider{
		api: &jsonAPI{
			client:   &http.Client{Timeout: 30 * time.Second},
			logger:   logger,
			name:     "Mailjet",
			endpoint: mailjetEndpoint,
			auth:     func(r *http.Request) { r.SetBasicAuth(apiKey, secretKey) },
			attempts: 3,
			delay:    time.Second,
		},
		fromAddr: fromAddr,
		fromName: fromName,
	}
}

type mailjetContact struct {
	Email string `json:"Email"`
	Name  string `json:"Name,omitempty"`
}

type mailjetMessage struct {
	Headers  map[string]string `json:"Headers,omitempty"`
	From     mailjetContact    `json:"From"`
	Subject  string            `json:"Subject"`
	TextPart string            `json:"TextPart,omitempty"`
	HTMLPart string            `json:"HTMLPart"`
	To       []mailjetContact  `json:"To"`
}

type mailjetRequest struct {
	Messages []mailjetMessage `json:"Messages"`
}

type mailjetResponse struct {
	Messages []struct {
		Status string `json:"Status"`
		Errors []struct {
			ErrorMessage string `json:"ErrorMessage"`
		} `json:"Errors"`
		To []struct {
			Email     string `json:"Email"`
			MessageID int64  `json:"MessageID"`
		} `json:"To"`
	} `json:"Messages"`
}

// Send sends an email via Mailjet. The returned ID is the numeric Mailjet
// message ID that event callbacks refer to.
func (m *MailjetProvider) Send(ctx context.Context, msg Message) (string, error) {
	mm := mailjetMessage{
		From:     mailjetContact{Email: m.fromAddr, Name: m.fromName},
		To:       []mailjetContact{{Email: msg.To}},
		Subject:  msg.Subject,
		TextPart: msg.Text,
		HTMLPart: msg.HTML,
	}
	if msg.ListUnsubscribe != "" {
		mm.Headers = map[string]string{
			"List-Unsubscribe":      "<" + msg.ListUnsubscribe + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		}
	}

	var resp mailjetResponse
	if err := m.api.post(ctx, msg.To, mailjetRequest{Messages: []mailjetMessage{mm}}, &resp); err != nil {
		return "", fmt.Errorf("mailjet send: %w", err)
	}

	if len(resp.Messages) == 0 {
		return "", errors.New("mailjet send: empty response")
	}
	result := resp.Messages[0]
	if result.Status != "success" {
		reason := result.Status
		if len(result.Errors) > 0 {
			reason = result.Errors[0].ErrorMessage
		}
		return "", fmt.Errorf("mailjet send: %s", reason)
	}
	if len(result.To) == 0 {
		return "", nil
	}
	return strconv.FormatInt(result.To[0].MessageID, 10), nil
}
