package delivery

import (
	"creatormind/pkg/digest"
	"creatormind/schedule"
)

// Kind is the terminal state of one user in one cycle.
type Kind int

// Terminal states.
const (
	Skipped Kind = iota
	GenerationFailed
	SendFailed
	Delivered
	Faulted // unexpected error or panic while processing the user
)

func (k Kind) String() string {
	switch k {
	case Skipped:
		return "skipped"
	case GenerationFailed:
		return "generation_failed"
	case SendFailed:
		return "send_failed"
	case Delivered:
		return "delivered"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Outcome is what happened to one user in a cycle.
type Outcome struct {
	Err      error            // cause of GenerationFailed, SendFailed or Faulted
	LogErr   error            // set when the log entry could not be written
	Entry    *digest.LogEntry // entry written, nil for Skipped and Faulted
	Decision schedule.Decision
	Kind     Kind
}

// Reason returns the skip reason label, or "" for outcomes that are not skips.
func (o Outcome) Reason() string {
	if o.Kind != Skipped {
		return ""
	}
	return o.Decision.Reason.String()
}

// Summary aggregates the outcomes of one cycle.
type Summary struct {
	UsersChecked   int `json:"usersChecked"`
	IdeasGenerated int `json:"ideasGenerated"`
	EmailsSent     int `json:"emailsSent"`
	Skipped        int `json:"skipped"`
	Errors         int `json:"errors"`
}

func (s *Summary) add(o Outcome) {
	s.UsersChecked++
	switch o.Kind {
	case Skipped:
		s.Skipped++
	case GenerationFailed, Faulted:
		s.Errors++
	case SendFailed:
		s.IdeasGenerated++
		s.Errors++
	case Delivered:
		s.IdeasGenerated++
		s.EmailsSent++
	}
	if o.LogErr != nil && o.Kind != GenerationFailed && o.Kind != SendFailed {
		s.Errors++
	}
}

// Result pairs an outcome with the user it belongs to.
type Result struct {
	UserID  string
	Email   string
	Outcome Outcome
}

// Report is the full result of a cycle.
type Report struct {
	Results []Result
	Summary Summary
}
