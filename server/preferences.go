package server

import (
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"creatormind/pkg/digest"
)

type settingsPreferences struct {
	FocusAreas       []string `json:"focusAreas"`
	AvoidTopics      []string `json:"avoidTopics"`
	PreferredFormats []string `json:"preferredFormats"`
}

type settings struct {
	EmailFrequency string              `json:"emailFrequency"`
	EmailDay       string              `json:"emailDay"`
	EmailTime      string              `json:"emailTime"`
	Timezone       string              `json:"timezone"`
	Preferences    settingsPreferences `json:"preferences"`
	IdeaCount      int                 `json:"ideaCount"`
	EmailEnabled   bool                `json:"emailEnabled"`
}

type settingsResponse struct {
	Message  string   `json:"message,omitempty"`
	Settings settings `json:"settings"`
	Success  bool     `json:"success"`
}

func settingsFromProfile(p *digest.Profile) settings {
	p.ApplyDefaults()
	return settings{
		EmailEnabled:   p.Enabled,
		EmailFrequency: string(p.Frequency),
		EmailDay:       p.Day,
		EmailTime:      p.Time,
		Timezone:       p.Timezone,
		IdeaCount:      p.IdeaCount,
		Preferences: settingsPreferences{
			FocusAreas:       p.Preferences.FocusAreas,
			AvoidTopics:      p.Preferences.AvoidTopics,
			PreferredFormats: p.Preferences.PreferredFormats,
		},
	}
}

// apply replaces the schedule and preferences of p with st. Missing values
// fall back to the defaults, as the settings form does.
func (st settings) apply(p *digest.Profile) {
	p.Enabled = st.EmailEnabled
	p.Frequency = digest.Frequency(strings.ToLower(strings.TrimSpace(st.EmailFrequency)))
	p.Day = strings.TrimSpace(st.EmailDay)
	p.Time = strings.TrimSpace(st.EmailTime)
	p.Timezone = strings.TrimSpace(st.Timezone)
	p.IdeaCount = st.IdeaCount
	p.Preferences = digest.Preferences{
		FocusAreas:       st.Preferences.FocusAreas,
		AvoidTopics:      st.Preferences.AvoidTopics,
		PreferredFormats: st.Preferences.PreferredFormats,
	}
	p.ApplyDefaults()
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	p := s.profileFromToken(w, r)
	if p == nil {
		return
	}
	s.writeJSON(w, http.StatusOK, settingsResponse{Success: true, Settings: settingsFromProfile(p)})
}

func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	p := s.profileFromToken(w, r)
	if p == nil {
		return
	}

	var body struct {
		Settings *settings `json:"settings"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if body.Settings == nil {
		s.writeError(w, http.StatusBadRequest, "Settings are required")
		return
	}

	body.Settings.apply(p)
	if err := p.Validate(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid settings", "message": err.Error()})
		return
	}
	if err := s.profiles.Save(r.Context(), p); err != nil {
		s.logger.Error("Failed to save settings", "email", p.Email, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	s.logger.Info("Settings saved", "email", p.Email, "enabled", p.Enabled, "frequency", p.Frequency, "day", p.Day, "time", p.Time)
	s.writeJSON(w, http.StatusOK, settingsResponse{
		Success:  true,
		Settings: settingsFromProfile(p),
		Message:  "Settings saved successfully",
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	p := s.profileFromToken(w, r)
	if p == nil {
		return
	}
	if p.Enabled {
		p.Enabled = false
		if err := s.profiles.Save(r.Context(), p); err != nil {
			s.logger.Error("Failed to unsubscribe", "email", p.Email, "error", err)
			s.writeError(w, http.StatusInternalServerError, "Failed to unsubscribe")
			return
		}
		s.logger.Info("User unsubscribed", "email", p.Email)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "You will no longer receive idea emails"})
}
