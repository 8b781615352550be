// Package digest contains the core domain types for the CreatorMind idea digest service.
package digest

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is how often a user wants an idea digest.
type Frequency string

// Supported frequencies.
const (
	Weekly   Frequency = "weekly"
	Biweekly Frequency = "biweekly"
	Monthly  Frequency = "monthly"
)

// MinDays returns the minimum number of whole days that must elapse between
// two successful deliveries. Unknown values behave like weekly.
func (f Frequency) MinDays() int {
	switch f {
	case Biweekly:
		return 14
	case Monthly:
		return 30
	default:
		return 7
	}
}

// Weekdays lists the lowercase weekday names, Sunday first, indexed by time.Weekday.
var Weekdays = [...]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// WeekdayName returns the lowercase name used in profiles for d.
func WeekdayName(d time.Weekday) string {
	return Weekdays[d]
}

// Preferences filter the ideas a user receives. They are passed through to the
// idea generator unmodified.
type Preferences struct {
	FocusAreas       []string `json:"focus_areas"`
	AvoidTopics      []string `json:"avoid_topics"`
	PreferredFormats []string `json:"preferred_formats"`
}

// Profile is a user's schedule and content preferences.
type Profile struct {
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	UserID      string      `json:"user_id"`
	Email       string      `json:"email" validate:"required,email"`
	Name        string      `json:"name,omitempty"`
	Frequency   Frequency   `json:"frequency" validate:"required,oneof=weekly biweekly monthly"`
	Day         string      `json:"day" validate:"required,oneof=sunday monday tuesday wednesday thursday friday saturday"`
	Time        string      `json:"time" validate:"required,clock"`
	Timezone    string      `json:"timezone" validate:"omitempty,timezone"`
	Token       string      `json:"token"` // Secure token for preference and history links
	Preferences Preferences `json:"preferences"`
	IdeaCount   int         `json:"idea_count" validate:"min=3,max=10"`
	Enabled     bool        `json:"enabled"`
}

// Defaults used when a profile is created or a field is missing.
const (
	DefaultDay       = "sunday"
	DefaultTime      = "09:00"
	DefaultTimezone  = "UTC"
	DefaultIdeaCount = 5
)

// ApplyDefaults fills unset fields the same way the settings page does.
func (p *Profile) ApplyDefaults() {
	if p.Frequency == "" {
		p.Frequency = Weekly
	}
	if p.Day == "" {
		p.Day = DefaultDay
	}
	p.Day = strings.ToLower(p.Day)
	if p.Time == "" {
		p.Time = DefaultTime
	}
	if p.Timezone == "" {
		p.Timezone = DefaultTimezone
	}
	if p.IdeaCount == 0 {
		p.IdeaCount = DefaultIdeaCount
	}
	if p.Preferences.FocusAreas == nil {
		p.Preferences.FocusAreas = []string{}
	}
	if p.Preferences.AvoidTopics == nil {
		p.Preferences.AvoidTopics = []string{}
	}
	if p.Preferences.PreferredFormats == nil {
		p.Preferences.PreferredFormats = []string{}
	}
}

// ID returns the identifier used for delivery log lookups.
// Profiles without an explicit user ID are keyed by their normalized email.
func (p *Profile) ID() string {
	if p.UserID != "" {
		return p.UserID
	}
	return strings.ToLower(strings.TrimSpace(p.Email))
}

// Status is the delivery state of a log entry.
type Status string

// Delivery statuses. Only Sent and Delivered count as a completed period.
const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusOpened    Status = "opened"
	StatusClicked   Status = "clicked"
	StatusBounced   Status = "bounced"
	StatusFailed    Status = "failed"
)

// Successful reports whether s counts as a sent period for frequency gating.
func (s Status) Successful() bool {
	return s == StatusSent || s == StatusDelivered
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusOpened, StatusClicked, StatusBounced, StatusFailed:
		return true
	}
	return false
}

// Failure reasons recorded by the orchestrator.
const (
	ReasonGenerationFailed = "Idea generation failed"
	ReasonSendFailed       = "Email sending failed"
)

// LogEntry is one row of the append-only delivery log.
type LogEntry struct {
	SentAt         time.Time  `json:"sentAt"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	OpenedAt       *time.Time `json:"openedAt,omitempty"`
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	Subject        string     `json:"subject"`
	RecipientEmail string     `json:"recipientEmail"`
	Status         Status     `json:"status"`
	MessageID      string     `json:"messageId,omitempty"`
	FailureReason  string     `json:"failureReason,omitempty"`
	IdeaCount      int        `json:"ideaCount"`
}

// Idea is a single generated video idea.
type Idea struct {
	Title     string   `json:"title"`
	Hook      string   `json:"hook"`
	Format    string   `json:"format"`
	Rationale string   `json:"rationale"`
	Tags      []string `json:"tags,omitempty"`
}

// IdeaSet is the result of one idea generation call.
type IdeaSet struct {
	GeneratedAt time.Time `json:"generated_at"`
	UserID      string    `json:"user_id"`
	Ideas       []Idea    `json:"ideas"`
}

// SendResult is the outcome reported by an email transport.
// A transport failure is a result with Accepted false, not an error.
type SendResult struct {
	Err       error
	MessageID string
	Accepted  bool
}

// DeliveredSubject is the subject line recorded for a delivered digest.
func DeliveredSubject(count int, day time.Time) string {
	return fmt.Sprintf("Your %d Video Ideas - %d/%d/%d", count, int(day.Month()), day.Day(), day.Year())
}
