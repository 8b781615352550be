package server

import (
	"bytes"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"creatormind/pkg/digest"
)

// providerEvent covers the Mailjet and Brevo webhook payloads.
type providerEvent struct {
	MailjetID json.Number `json:"MessageID"`
	Event     string      `json:"event"`
	BrevoID   string      `json:"message-id"`
	Time      int64       `json:"time"`     // Mailjet, unix seconds
	TSEvent   int64       `json:"ts_event"` // Brevo, unix seconds
}

func (e providerEvent) messageID() string {
	if e.BrevoID != "" {
		return e.BrevoID
	}
	return e.MailjetID.String()
}

func (e providerEvent) at(fallback time.Time) time.Time {
	switch {
	case e.Time > 0:
		return time.Unix(e.Time, 0).UTC()
	case e.TSEvent > 0:
		return time.Unix(e.TSEvent, 0).UTC()
	default:
		return fallback
	}
}

// eventStatus maps provider event names to log statuses. ok is false for
// events that do not change the log.
func eventStatus(event string) (digest.Status, bool) {
	switch strings.ToLower(event) {
	case "sent", "delivered":
		return digest.StatusDelivered, true
	case "open", "opened", "unique_opened":
		return digest.StatusOpened, true
	case "click", "clicked":
		return digest.StatusClicked, true
	case "bounce", "hard_bounce", "soft_bounce", "blocked", "invalid_email", "error":
		return digest.StatusBounced, true
	default:
		return "", false
	}
}

func (s *Server) authorizedWebhook(r *http.Request) bool {
	if s.webhookSecret == "" {
		return false
	}
	got := r.Header.Get("X-Webhook-Secret")
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.webhookSecret)) == 1
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedWebhook(r) {
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}

	// Mailjet may group events into an array.
	var events []providerEvent
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &events)
	} else {
		var e providerEvent
		err = json.Unmarshal(trimmed, &e)
		events = []providerEvent{e}
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	now := s.now()
	var processed, ignored int
	for _, e := range events {
		status, ok := eventStatus(e.Event)
		id := e.messageID()
		if !ok || id == "" {
			ignored++
			continue
		}
		if err := s.log.RecordEvent(r.Context(), id, status, e.at(now)); err != nil {
			if s.isLogNotFound(err) {
				s.logger.Debug("Event for unknown message", "message_id", id, "event", e.Event)
				ignored++
				continue
			}
			s.logger.Error("Failed to record delivery event", "message_id", id, "event", e.Event, "error", err)
			s.writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		processed++
	}

	s.logger.Info("Delivery events received", "processed", processed, "ignored", ignored)
	s.writeJSON(w, http.StatusOK, map[string]int{"processed": processed, "ignored": ignored})
}
