package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"creatormind/delivery"
)

type cronResponse struct {
	Summary   delivery.Summary `json:"summary"`
	Message   string           `json:"message"`
	Timestamp string           `json:"timestamp"`
	Success   bool             `json:"success"`
}

// authorizedCron reports whether the request carries the configured bearer
// secret. An unset secret rejects every request.
func (s *Server) authorizedCron(r *http.Request) bool {
	if s.cronSecret == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + s.cronSecret
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func (s *Server) handleCron(w http.ResponseWriter, r *http.Request) {
	if !s.authorizedCron(r) {
		s.logger.Warn("Rejected cron trigger", "remote_addr", r.RemoteAddr)
		s.writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	now := s.now()
	s.logger.Info("Cron endpoint triggered", "server_time", now.UTC().Format(time.RFC3339))

	// The cycle runs to completion even if the scheduler gives up on the request.
	report, err := s.cycler.RunCycle(context.WithoutCancel(r.Context()), now)
	if errors.Is(err, delivery.ErrCycleInProgress) {
		s.writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "Cycle already running",
			"message": err.Error(),
		})
		return
	}
	if err != nil {
		s.logger.Error("Cron job failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Failed to process cron job",
			"message": err.Error(),
		})
		return
	}

	s.writeJSON(w, http.StatusOK, cronResponse{
		Success:   true,
		Message:   "Cron job completed",
		Summary:   report.Summary,
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
	})
}
