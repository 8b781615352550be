// Package schedule decides whether a user's idea digest is due at a given instant.
package schedule

import (
	"math"
	"strings"
	"time"

	"creatormind/pkg/digest"
)

// Tolerance is how far the local clock may be from the scheduled time-of-day
// and still trigger a delivery.
const Tolerance = 5

// Reason classifies a decision.
type Reason int

// Decision reasons. Proceed is the only one that leads to a delivery.
const (
	Proceed Reason = iota
	Disabled
	WrongDay
	WrongTime
	AlreadySent
)

func (r Reason) String() string {
	switch r {
	case Proceed:
		return "proceed"
	case Disabled:
		return "disabled"
	case WrongDay:
		return "wrong_day"
	case WrongTime:
		return "wrong_time"
	case AlreadySent:
		return "already_sent_this_period"
	default:
		return "unknown"
	}
}

// Decision is the result of evaluating one profile. The extra fields describe
// how the reason was reached and are only meant for logging.
type Decision struct {
	Local      time.Time // Evaluation instant in the user's timezone
	Reason     Reason
	MinutesOff int // |scheduled - now| in minutes of day, -1 if not computed
	DaysSince  int // Whole days since the last successful delivery, -1 if none
}

// Proceed reports whether the digest should be generated and sent.
func (d Decision) Proceed() bool {
	return d.Reason == Proceed
}

// Location resolves an IANA zone name, falling back to UTC for empty or
// unknown names so one bad profile never fails a whole cycle.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Evaluate decides whether p is due at now. last is the most recent log entry
// with a successful status, or nil. Evaluate has no side effects.
func Evaluate(p *digest.Profile, now time.Time, last *digest.LogEntry) Decision {
	d := Decision{Reason: Proceed, MinutesOff: -1, DaysSince: -1}

	if !p.Enabled {
		d.Reason = Disabled
		return d
	}

	d.Local = now.In(Location(p.Timezone))
	if digest.WeekdayName(d.Local.Weekday()) != strings.ToLower(strings.TrimSpace(p.Day)) {
		d.Reason = WrongDay
		return d
	}

	scheduled, err := digest.ParseClock(p.Time)
	if err != nil {
		// An unparseable time can never match.
		d.Reason = WrongTime
		return d
	}

	// Raw minute-of-day comparison with no wraparound across midnight.
	current := d.Local.Hour()*60 + d.Local.Minute()
	d.MinutesOff = scheduled - current
	if d.MinutesOff < 0 {
		d.MinutesOff = -d.MinutesOff
	}
	if d.MinutesOff > Tolerance {
		d.Reason = WrongTime
		return d
	}

	// Failed entries never gate the next window.
	if last == nil || !last.Status.Successful() {
		return d
	}

	d.DaysSince = DaysBetween(last.SentAt, now)
	if d.DaysSince < p.Frequency.MinDays() {
		d.Reason = AlreadySent
	}
	return d
}

// DaysBetween returns the whole days elapsed from then to now, floored.
func DaysBetween(then, now time.Time) int {
	return int(math.Floor(float64(now.Sub(then)) / float64(24*time.Hour)))
}
