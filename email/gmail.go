package email

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
)

// GmailProvider sends emails via Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider creates a new Gmail email provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
	}
}

// sanitizeEmailHeader removes CR, LF and other control characters so a value
// cannot terminate its header line.
func sanitizeEmailHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// buildMIME assembles a multipart/alternative message. The From address is
// set by Gmail from the authenticated account.
func buildMIME(msg Message) (string, error) {
	var body strings.Builder
	mw := multipart.NewWriter(&body)

	if msg.Text != "" {
		part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}})
		if err != nil {
			return "", fmt.Errorf("create text part: %w", err)
		}
		if _, err := part.Write([]byte(msg.Text)); err != nil {
			return "", fmt.Errorf("write text part: %w", err)
		}
	}
	part, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}})
	if err != nil {
		return "", fmt.Errorf("create html part: %w", err)
	}
	if _, err := part.Write([]byte(msg.HTML)); err != nil {
		return "", fmt.Errorf("write html part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	var b strings.Builder
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString(fmt.Sprintf("To: %s\r\n", sanitizeEmailHeader(msg.To)))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", sanitizeEmailHeader(msg.Subject)))
	if msg.ListUnsubscribe != "" {
		b.WriteString(fmt.Sprintf("List-Unsubscribe: <%s>\r\n", sanitizeEmailHeader(msg.ListUnsubscribe)))
		b.WriteString("List-Unsubscribe-Post: List-Unsubscribe=One-Click\r\n")
	}
	b.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary()))
	b.WriteString(body.String())
	return b.String(), nil
}

// Send sends an email via Gmail API.
func (g *GmailProvider) Send(ctx context.Context, msg Message) (string, error) {
	raw, err := buildMIME(msg)
	if err != nil {
		return "", err
	}
	encoded := base64.URLEncoding.EncodeToString([]byte(raw))

	var id string
	err = retry.Do(
		func() error {
			g.logger.Info("Gmail API request starting",
				"method", "POST",
				"endpoint", "users.messages.send",
				"to", msg.To,
				"subject", msg.Subject)

			startTime := time.Now()
			sent, err := g.service.Users.Messages.Send("me", &gmail.Message{
				Raw: encoded,
			}).Context(ctx).Do()
			duration := time.Since(startTime)

			if err != nil {
				g.logger.Warn("Gmail API send failed, will retry",
					"to", msg.To,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			id = sent.Id

			g.logger.Info("Gmail API request completed",
				"endpoint", "users.messages.send",
				"to", msg.To,
				"message_id", id,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying Gmail email send after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("gmail send: %w", err)
	}
	return id, nil
}
