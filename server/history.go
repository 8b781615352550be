package server

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"creatormind/pkg/digest"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
	maxHistoryPage      = math.MaxInt32 / maxHistoryLimit
)

type historyEntry struct {
	SentAt         time.Time     `json:"sentAt"`
	DeliveredAt    *time.Time    `json:"deliveredAt,omitempty"`
	OpenedAt       *time.Time    `json:"openedAt,omitempty"`
	ID             string        `json:"id"`
	Subject        string        `json:"subject"`
	RecipientEmail string        `json:"recipientEmail"`
	Status         digest.Status `json:"status"`
	FailureReason  string        `json:"failureReason,omitempty"`
	IdeaCount      int           `json:"ideaCount"`
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type historyResponse struct {
	Emails     []historyEntry `json:"emails"`
	Pagination pagination     `json:"pagination"`
	Success    bool           `json:"success"`
}

// pageParams parses page and limit. page is clamped to 1..maxHistoryPage so
// the offset stays in range; limit is clamped to 1..maxHistoryLimit.
func pageParams(r *http.Request) (page, limit int) {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	page = min(page, maxHistoryPage)
	limit, err = strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)
	return page, limit
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	p := s.profileFromToken(w, r)
	if p == nil {
		return
	}

	page, limit := pageParams(r)
	entries, err := s.log.History(r.Context(), p.ID(), limit, (page-1)*limit)
	if err != nil {
		s.logger.Error("Failed to fetch email history", "user_id", p.ID(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	total, err := s.log.Count(r.Context(), p.ID())
	if err != nil {
		s.logger.Error("Failed to count email history", "user_id", p.ID(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	resp := historyResponse{
		Success: true,
		Emails:  make([]historyEntry, 0, len(entries)),
		Pagination: pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	}
	for _, e := range entries {
		resp.Emails = append(resp.Emails, historyEntry{
			ID:             e.ID,
			Subject:        e.Subject,
			RecipientEmail: e.RecipientEmail,
			Status:         e.Status,
			IdeaCount:      e.IdeaCount,
			SentAt:         e.SentAt,
			DeliveredAt:    e.DeliveredAt,
			OpenedAt:       e.OpenedAt,
			FailureReason:  e.FailureReason,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}
