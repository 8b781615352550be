// Package email renders idea digests and sends them through pluggable providers.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"creatormind/pkg/digest"
	"creatormind/schedule"
)

// Message is a rendered email ready for a provider.
type Message struct {
	To              string
	Subject         string
	HTML            string
	Text            string
	ListUnsubscribe string // URL for the List-Unsubscribe header, optional
}

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send hands msg to the transport and returns the provider's message ID, if any.
	Send(ctx context.Context, msg Message) (string, error)
}

// Sender renders digests and sends them using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	limiter  *rate.Limiter
	now      func() time.Time
	baseURL  string // For links in emails
}

// New creates a new email sender. perSecond limits outbound sends; zero disables pacing.
func New(provider Provider, logger *slog.Logger, baseURL string, perSecond float64) *Sender {
	s := &Sender{
		provider: provider,
		logger:   logger,
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
	if perSecond > 0 {
		burst := max(int(perSecond), 1)
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return s
}

// SendDigest renders set for p and sends it. Transport problems are reported
// in the result rather than as an error.
func (s *Sender) SendDigest(ctx context.Context, p *digest.Profile, set *digest.IdeaSet) digest.SendResult {
	if set == nil || len(set.Ideas) == 0 {
		return digest.SendResult{Err: errors.New("no ideas to send")}
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return digest.SendResult{Err: fmt.Errorf("wait for send slot: %w", err)}
		}
	}

	local := s.now().In(schedule.Location(p.Timezone))
	html := s.formatDigestBody(p, set, local)
	text, err := PlainText(html)
	if err != nil {
		s.logger.Warn("Failed to derive text part, sending HTML only", "email", p.Email, "error", err)
		text = ""
	}

	msg := Message{
		To:              p.Email,
		Subject:         digest.DeliveredSubject(len(set.Ideas), local),
		HTML:            html,
		Text:            text,
		ListUnsubscribe: s.unsubscribeURL(p.Token),
	}

	s.logger.Info("Sending digest email",
		"to", p.Email,
		"subject", msg.Subject,
		"idea_count", len(set.Ideas))

	id, err := s.provider.Send(ctx, msg)
	if err != nil {
		s.logger.Error("Failed to send digest email", "to", p.Email, "error", err)
		return digest.SendResult{Err: err}
	}
	return digest.SendResult{Accepted: true, MessageID: id}
}

func (s *Sender) manageURL(token string) string {
	return fmt.Sprintf("%s/api/settings/preferences?token=%s", s.baseURL, url.QueryEscape(token))
}

func (s *Sender) historyURL(token string) string {
	return fmt.Sprintf("%s/api/email/history?token=%s", s.baseURL, url.QueryEscape(token))
}

func (s *Sender) unsubscribeURL(token string) string {
	if token == "" {
		return ""
	}
	return fmt.Sprintf("%s/api/settings/unsubscribe?token=%s", s.baseURL, url.QueryEscape(token))
}
