// Package delivery runs digest cycles: evaluate every enabled profile, then
// generate, send and log for the ones that are due.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"creatormind/pkg/digest"
	"creatormind/schedule"
)

// Subjects recorded for failed deliveries.
const (
	SubjectSendFailed       = "Your Video Ideas (Failed to Send)"
	SubjectGenerationFailed = "Your Video Ideas (Generation Failed)"
)

// DefaultUserTimeout bounds the work done for one user in a cycle.
const DefaultUserTimeout = 2 * time.Minute

// ProfileStore lists the profiles to consider.
type ProfileStore interface {
	ListEnabled(ctx context.Context) ([]*digest.Profile, error)
}

// LogStore is the delivery log.
type LogStore interface {
	LastSuccessful(ctx context.Context, userID string) (*digest.LogEntry, error)
	Append(ctx context.Context, e *digest.LogEntry) error
}

// Generator produces ideas for a user.
type Generator interface {
	Generate(ctx context.Context, userID string, count int, prefs digest.Preferences) (*digest.IdeaSet, error)
}

// Mailer delivers a digest.
type Mailer interface {
	SendDigest(ctx context.Context, p *digest.Profile, set *digest.IdeaSet) digest.SendResult
}

// Observer receives cycle measurements. *metrics.Metrics satisfies it.
type Observer interface {
	CycleFinished(d time.Duration, err error)
	UserProcessed(outcome, reason string, d time.Duration)
}

// Options tune a Runner. The zero value is usable.
type Options struct {
	Locker      Locker
	Observer    Observer
	UserTimeout time.Duration
}

// Runner executes delivery cycles.
type Runner struct {
	profiles    ProfileStore
	log         LogStore
	generator   Generator
	mailer      Mailer
	locker      Locker
	observer    Observer
	logger      *slog.Logger
	clock       func() time.Time
	userTimeout time.Duration
}

// New creates a new cycle runner.
func New(profiles ProfileStore, log LogStore, generator Generator, mailer Mailer, logger *slog.Logger, opts Options) *Runner {
	r := &Runner{
		profiles:    profiles,
		log:         log,
		generator:   generator,
		mailer:      mailer,
		locker:      opts.Locker,
		observer:    opts.Observer,
		logger:      logger,
		clock:       time.Now,
		userTimeout: opts.UserTimeout,
	}
	if r.locker == nil {
		r.locker = &MemoryLock{}
	}
	if r.userTimeout <= 0 {
		r.userTimeout = DefaultUserTimeout
	}
	return r
}

// RunCycle evaluates every enabled profile at now and delivers to those that
// are due. Per-user failures are folded into the report; only a lock conflict,
// a failure to list profiles or cancellation of ctx return an error.
func (r *Runner) RunCycle(ctx context.Context, now time.Time) (*Report, error) {
	start := time.Now()

	ok, err := r.locker.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !ok {
		return nil, ErrCycleInProgress
	}
	defer func() {
		if unlockErr := r.locker.Unlock(); unlockErr != nil {
			r.logger.Warn("Failed to release cycle lock", "error", unlockErr)
		}
	}()

	report, err := r.runLocked(ctx, now)
	if r.observer != nil {
		r.observer.CycleFinished(time.Since(start), err)
	}
	return report, err
}

func (r *Runner) runLocked(ctx context.Context, now time.Time) (*Report, error) {
	profiles, err := r.profiles.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled profiles: %w", err)
	}

	r.logger.Info("Starting delivery cycle", "users", len(profiles), "server_time", now.UTC().Format(time.RFC3339))

	report := &Report{Results: make([]Result, 0, len(profiles))}
	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			r.logger.Info("Context cancelled, stopping delivery cycle", "processed", len(report.Results), "error", err)
			return report, fmt.Errorf("cycle interrupted: %w", err)
		}

		userStart := time.Now()
		o := r.processUser(ctx, p, now)
		report.Summary.add(o)
		report.Results = append(report.Results, Result{UserID: p.ID(), Email: p.Email, Outcome: o})
		if r.observer != nil {
			r.observer.UserProcessed(o.Kind.String(), o.Reason(), time.Since(userStart))
		}
	}

	s := report.Summary
	r.logger.Info("Delivery cycle completed",
		"users_checked", s.UsersChecked,
		"ideas_generated", s.IdeasGenerated,
		"emails_sent", s.EmailsSent,
		"skipped", s.Skipped,
		"errors", s.Errors)
	return report, nil
}

// processUser runs evaluate, generate, send and log for one profile. It never
// panics and never returns an error: everything is expressed as an Outcome.
func (r *Runner) processUser(ctx context.Context, p *digest.Profile, now time.Time) (o Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic while processing user", "email", p.Email, "panic", rec)
			o = Outcome{Kind: Faulted, Decision: o.Decision, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.userTimeout)
	defer cancel()

	userID := p.ID()
	last, err := r.log.LastSuccessful(ctx, userID)
	if err != nil {
		r.logger.Warn("Failed to fetch last delivery", "email", p.Email, "user_id", userID, "error", err)
		return Outcome{Kind: Faulted, Err: fmt.Errorf("fetch last delivery: %w", err)}
	}

	d := schedule.Evaluate(p, now, last)
	if !d.Proceed() {
		r.logger.Debug("Skipping user",
			"email", p.Email,
			"reason", d.Reason.String(),
			"local_time", d.Local.Format("Mon 15:04"),
			"scheduled", p.Day+" "+p.Time,
			"timezone", p.Timezone,
			"minutes_off", d.MinutesOff,
			"days_since", d.DaysSince)
		return Outcome{Kind: Skipped, Decision: d}
	}

	r.logger.Info("User is due, generating ideas",
		"email", p.Email,
		"frequency", p.Frequency,
		"idea_count", p.IdeaCount,
		"days_since", d.DaysSince)

	return r.deliver(ctx, p, d)
}

// deliver generates, sends and logs one digest.
func (r *Runner) deliver(ctx context.Context, p *digest.Profile, d schedule.Decision) Outcome {
	userID := p.ID()
	set, err := r.generator.Generate(ctx, userID, p.IdeaCount, p.Preferences)
	if err == nil && (set == nil || len(set.Ideas) == 0) {
		err = errors.New("generator returned no ideas")
	}
	if err != nil {
		r.logger.Warn("Idea generation failed", "email", p.Email, "error", err)
		entry := &digest.LogEntry{
			UserID:         userID,
			Subject:        SubjectGenerationFailed,
			RecipientEmail: p.Email,
			Status:         digest.StatusFailed,
			IdeaCount:      0,
			SentAt:         r.clock(),
			FailureReason:  digest.ReasonGenerationFailed,
		}
		return Outcome{Kind: GenerationFailed, Decision: d, Err: err, Entry: entry, LogErr: r.append(ctx, entry)}
	}

	res := r.mailer.SendDigest(ctx, p, set)
	sentAt := r.clock()
	if !res.Accepted {
		cause := res.Err
		if cause == nil {
			cause = errors.New("transport did not accept message")
		}
		r.logger.Warn("Digest email not accepted", "email", p.Email, "error", cause)
		entry := &digest.LogEntry{
			UserID:         userID,
			Subject:        SubjectSendFailed,
			RecipientEmail: p.Email,
			Status:         digest.StatusFailed,
			IdeaCount:      p.IdeaCount,
			SentAt:         sentAt,
			FailureReason:  digest.ReasonSendFailed,
		}
		return Outcome{Kind: SendFailed, Decision: d, Err: cause, Entry: entry, LogErr: r.append(ctx, entry)}
	}

	deliveredAt := sentAt
	entry := &digest.LogEntry{
		UserID:         userID,
		Subject:        digest.DeliveredSubject(len(set.Ideas), sentAt.In(schedule.Location(p.Timezone))),
		RecipientEmail: p.Email,
		Status:         digest.StatusDelivered,
		MessageID:      res.MessageID,
		IdeaCount:      len(set.Ideas),
		SentAt:         sentAt,
		DeliveredAt:    &deliveredAt,
	}
	r.logger.Info("Digest email sent", "email", p.Email, "ideas", len(set.Ideas), "message_id", res.MessageID)
	return Outcome{Kind: Delivered, Decision: d, Entry: entry, LogErr: r.append(ctx, entry)}
}

// append writes e with a context detached from the per-user deadline so a
// slow send does not prevent recording what happened.
func (r *Runner) append(ctx context.Context, e *digest.LogEntry) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.log.Append(ctx, e); err != nil {
		r.logger.Error("Failed to write delivery log entry", "user_id", e.UserID, "status", e.Status, "error", err)
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// ErrDisabled is returned by Deliver for profiles that opted out.
var ErrDisabled = errors.New("delivery disabled for this profile")

// Deliver sends a digest to p now, ignoring the schedule and frequency window.
// It takes the cycle lock and logs the attempt like a scheduled delivery, so
// the next scheduled period counts from it.
func (r *Runner) Deliver(ctx context.Context, p *digest.Profile) (o Outcome, err error) {
	if !p.Enabled {
		return Outcome{}, ErrDisabled
	}
	ok, err := r.locker.TryLock()
	if err != nil {
		return Outcome{}, fmt.Errorf("acquire cycle lock: %w", err)
	}
	if !ok {
		return Outcome{}, ErrCycleInProgress
	}
	defer func() {
		if unlockErr := r.locker.Unlock(); unlockErr != nil {
			r.logger.Warn("Failed to release cycle lock", "error", unlockErr)
		}
	}()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Panic during manual delivery", "email", p.Email, "panic", rec)
			o = Outcome{Kind: Faulted, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.userTimeout)
	defer cancel()

	r.logger.Info("Manual delivery requested", "email", p.Email, "idea_count", p.IdeaCount)
	start := time.Now()
	d := schedule.Decision{Local: r.clock().In(schedule.Location(p.Timezone)), Reason: schedule.Proceed, MinutesOff: -1, DaysSince: -1}
	o = r.deliver(ctx, p, d)
	if r.observer != nil {
		r.observer.UserProcessed(o.Kind.String(), o.Reason(), time.Since(start))
	}
	return o, nil
}

// Evaluation is the dry-run decision for one profile.
type Evaluation struct {
	Profile  *digest.Profile
	Last     *digest.LogEntry
	Err      error
	Decision schedule.Decision
}

// Evaluate computes the decision for every enabled profile at now without
// generating, sending or logging anything.
func (r *Runner) Evaluate(ctx context.Context, now time.Time) ([]Evaluation, error) {
	profiles, err := r.profiles.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled profiles: %w", err)
	}

	evals := make([]Evaluation, 0, len(profiles))
	for _, p := range profiles {
		last, err := r.log.LastSuccessful(ctx, p.ID())
		if err != nil {
			evals = append(evals, Evaluation{Profile: p, Err: err})
			continue
		}
		evals = append(evals, Evaluation{Profile: p, Last: last, Decision: schedule.Evaluate(p, now, last)})
	}
	return evals, nil
}
