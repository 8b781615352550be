// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	json "github.com/goccy/go-json"

	"creatormind/delivery"
	"creatormind/pkg/digest"
)

// Cycler runs delivery cycles.
type Cycler interface {
	RunCycle(ctx context.Context, now time.Time) (*delivery.Report, error)
}

// Profiles is the preference store.
type Profiles interface {
	LoadByToken(ctx context.Context, token string) (*digest.Profile, error)
	Save(ctx context.Context, p *digest.Profile) error
}

// DeliveryLog is the read and event side of the delivery log.
type DeliveryLog interface {
	History(ctx context.Context, userID string, limit, offset int) ([]digest.LogEntry, error)
	Count(ctx context.Context, userID string) (int, error)
	RecordEvent(ctx context.Context, messageID string, status digest.Status, at time.Time) error
}

// RequestRecorder counts served requests. *metrics.Metrics satisfies it.
type RequestRecorder interface {
	HTTPRequest(route string, code int)
}

// IsNotFound checks if an error is a not found error.
type IsNotFound func(error) bool

// Config holds server configuration.
type Config struct {
	Cycler         Cycler
	Profiles       Profiles
	Log            DeliveryLog
	Recorder       RequestRecorder
	MetricsHandler http.Handler
	Logger         *slog.Logger
	IsNotFound     IsNotFound
	IsLogNotFound  IsNotFound
	CronSecret     string
	WebhookSecret  string
	RateLimit      int // requests per minute per IP on token routes, 0 disables
}

// Server handles HTTP requests.
type Server struct {
	cycler         Cycler
	profiles       Profiles
	log            DeliveryLog
	recorder       RequestRecorder
	metricsHandler http.Handler
	logger         *slog.Logger
	isNotFound     IsNotFound
	isLogNotFound  IsNotFound
	now            func() time.Time
	cronSecret     string
	webhookSecret  string
	rateLimit      int
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	s := &Server{
		cycler:         cfg.Cycler,
		profiles:       cfg.Profiles,
		log:            cfg.Log,
		recorder:       cfg.Recorder,
		metricsHandler: cfg.MetricsHandler,
		logger:         cfg.Logger,
		isNotFound:     cfg.IsNotFound,
		isLogNotFound:  cfg.IsLogNotFound,
		now:            time.Now,
		cronSecret:     cfg.CronSecret,
		webhookSecret:  cfg.WebhookSecret,
		rateLimit:      cfg.RateLimit,
	}
	if s.isNotFound == nil {
		s.isNotFound = func(error) bool { return false }
	}
	if s.isLogNotFound == nil {
		s.isLogNotFound = func(error) bool { return false }
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.securityHeaders)
	r.Use(s.record)

	r.Get("/health", s.handleHealth)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Post("/api/cron/send-emails", s.handleCron)
	r.Post("/api/email/events", s.handleEvents)

	// Token routes are rate limited by IP to prevent token enumeration.
	r.Group(func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
		}
		r.Get("/api/email/history", s.handleHistory)
		r.Get("/api/settings/preferences", s.handleGetPreferences)
		r.Post("/api/settings/preferences", s.handleSavePreferences)
		r.Get("/api/settings/unsubscribe", s.handleUnsubscribe)
		r.Post("/api/settings/unsubscribe", s.handleUnsubscribe)
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Minute, // a cron request waits for the whole cycle
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		if s.recorder == nil {
			return
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.recorder.HTTPRequest(route, ww.Status())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "status", status, "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// profileFromToken loads the profile for the token query parameter, writing
// the error response itself when it returns nil.
func (s *Server) profileFromToken(w http.ResponseWriter, r *http.Request) *digest.Profile {
	token := r.URL.Query().Get("token")
	if len(token) != 64 {
		s.writeError(w, http.StatusBadRequest, "Invalid or missing token")
		return nil
	}
	p, err := s.profiles.LoadByToken(r.Context(), token)
	if err != nil {
		if s.isNotFound(err) {
			s.writeError(w, http.StatusNotFound, "User not found")
			return nil
		}
		s.logger.Error("Failed to load profile", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal server error")
		return nil
	}
	return p
}
