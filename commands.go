package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"creatormind/delivery"
	"creatormind/deliverylog"
	"creatormind/pkg/digest"
	"creatormind/server"
	profilestore "creatormind/storage"
)

func newServeCommand(load loader) *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: "Run the HTTP server. Cycles are triggered by POST /api/cron/send-emails, " +
			"or in-process when --cron is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if !cmd.Flags().Changed("cron") {
				schedule = cfg.Delivery.CronSchedule
			}
			if schedule != "" {
				c, err := a.startScheduler(ctx, schedule)
				if err != nil {
					return err
				}
				defer func() { <-c.Stop().Done() }()
			}

			srv := server.New(&server.Config{
				Cycler:         a.runner,
				Profiles:       a.profiles,
				Log:            a.log,
				Recorder:       a.metrics,
				MetricsHandler: promhttp.Handler(),
				Logger:         logger,
				IsNotFound:     profilestore.IsNotFound,
				IsLogNotFound:  func(err error) bool { return errors.Is(err, deliverylog.ErrNotFound) },
				CronSecret:     cfg.Server.CronSecret,
				WebhookSecret:  cfg.Server.WebhookSecret,
				RateLimit:      cfg.Server.RateLimit,
			})
			if cfg.Server.CronSecret == "" {
				logger.Warn("CRON_SECRET not set, the cron endpoint rejects all requests")
			}
			return srv.ListenAndServe(ctx, cfg.Server.Port)
		},
	}
	cmd.Flags().StringVar(&schedule, "cron", "", `also run cycles on this schedule, in UTC (e.g. "*/5 * * * *")`)
	return cmd
}

// startScheduler runs a cycle on every tick of spec. Ticks that arrive while a
// cycle is still running are skipped.
func (a *app) startScheduler(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := c.AddFunc(spec, func() {
		report, err := a.runner.RunCycle(ctx, time.Now())
		if err != nil {
			a.logger.Error("Scheduled cycle failed", "error", err)
			return
		}
		a.logger.Info("Scheduled cycle finished", "emails_sent", report.Summary.EmailsSent, "errors", report.Summary.Errors)
	})
	if err != nil {
		return nil, fmt.Errorf("parse cron schedule %q: %w", spec, err)
	}
	c.Start()
	a.logger.Info("In-process scheduler started", "schedule", spec)
	return c, nil
}

func newRunCommand(load loader) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one delivery cycle now and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.runner.RunCycle(cmd.Context(), now)
			if report != nil {
				renderReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate schedules as of this RFC3339 instant (default now)")
	return cmd
}

func newEvaluateCommand(load loader) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Show which enabled profiles are due, without sending anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			now, err := parseAt(at)
			if err != nil {
				return err
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			evals, err := a.runner.Evaluate(cmd.Context(), now)
			if err != nil {
				return err
			}
			renderEvaluations(cmd.OutOrStdout(), evals, now)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 instant to evaluate at (default now)")
	return cmd
}

func newHistoryCommand(load loader) *cobra.Command {
	var (
		addr  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent delivery log entries for a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.profiles.LoadByEmail(cmd.Context(), addr)
			if err != nil {
				return fmt.Errorf("load profile %s: %w", addr, err)
			}
			entries, err := a.log.History(cmd.Context(), p.ID(), limit, 0)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "email", "", "profile email address")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSendCommand(load loader) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a digest to one profile now, ignoring its schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.profiles.LoadByEmail(cmd.Context(), addr)
			if err != nil {
				return fmt.Errorf("load profile %s: %w", addr, err)
			}
			o, err := a.runner.Deliver(cmd.Context(), p)
			if err != nil {
				return err
			}
			renderReport(cmd.OutOrStdout(), &delivery.Report{
				Results: []delivery.Result{{UserID: p.ID(), Email: p.Email, Outcome: o}},
			})
			if o.Kind != delivery.Delivered {
				return fmt.Errorf("digest not delivered: %s", o.Kind)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "email", "", "profile email address")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// profileFlags are the editable profile fields. Only flags set on the command
// line are applied, so an existing profile keeps everything else.
type profileFlags struct {
	name      string
	frequency string
	day       string
	clock     string
	timezone  string
	focus     []string
	avoid     []string
	formats   []string
	ideas     int
	enabled   bool
}

func (f *profileFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.name, "name", "", "display name used in the greeting")
	fs.BoolVar(&f.enabled, "enabled", false, "receive digests")
	fs.StringVar(&f.frequency, "frequency", "", "weekly, biweekly or monthly")
	fs.StringVar(&f.day, "day", "", "weekday name, e.g. monday")
	fs.StringVar(&f.clock, "time", "", "local delivery time, HH:MM")
	fs.StringVar(&f.timezone, "timezone", "", "IANA timezone, e.g. Europe/Berlin")
	fs.IntVar(&f.ideas, "ideas", 0, "ideas per digest, 3 to 10")
	fs.StringSliceVar(&f.focus, "focus", nil, "focus areas")
	fs.StringSliceVar(&f.avoid, "avoid", nil, "topics to avoid")
	fs.StringSliceVar(&f.formats, "formats", nil, "preferred formats")
}

func (f *profileFlags) apply(cmd *cobra.Command, p *digest.Profile) {
	changed := cmd.Flags().Changed
	if changed("name") {
		p.Name = f.name
	}
	if changed("enabled") {
		p.Enabled = f.enabled
	}
	if changed("frequency") {
		p.Frequency = digest.Frequency(strings.ToLower(f.frequency))
	}
	if changed("day") {
		p.Day = strings.ToLower(f.day)
	}
	if changed("time") {
		p.Time = f.clock
	}
	if changed("timezone") {
		p.Timezone = f.timezone
	}
	if changed("ideas") {
		p.IdeaCount = f.ideas
	}
	if changed("focus") {
		p.Preferences.FocusAreas = f.focus
	}
	if changed("avoid") {
		p.Preferences.AvoidTopics = f.avoid
	}
	if changed("formats") {
		p.Preferences.PreferredFormats = f.formats
	}
	p.ApplyDefaults()
}

func newProfileCommand(load loader) *cobra.Command {
	var (
		addr   string
		remove bool
		flags  profileFlags
	)
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Create or update a profile and print its links",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if remove {
				if err := a.profiles.Delete(cmd.Context(), addr); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", addr)
				return nil
			}

			p, err := a.profiles.LoadByEmail(cmd.Context(), addr)
			switch {
			case profilestore.IsNotFound(err):
				p = &digest.Profile{Email: strings.TrimSpace(addr)}
			case err != nil:
				return fmt.Errorf("load profile %s: %w", addr, err)
			}

			flags.apply(cmd, p)
			if err := p.Validate(); err != nil {
				return err
			}
			if err := a.profiles.Save(cmd.Context(), p); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			base := strings.TrimRight(cfg.Server.BaseURL, "/")
			fmt.Fprintf(out, "Saved %s (user %s, enabled=%t, %s on %s at %s %s, %d ideas)\n",
				p.Email, p.UserID, p.Enabled, p.Frequency, p.Day, p.Time, p.Timezone, p.IdeaCount)
			fmt.Fprintf(out, "Preferences: %s/api/settings/preferences?token=%s\n", base, p.Token)
			fmt.Fprintf(out, "History:     %s/api/email/history?token=%s\n", base, p.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "email", "", "profile email address")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the profile instead of updating it")
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func parseAt(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --at: %w", err)
	}
	return t, nil
}
