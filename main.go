// Package main implements the CreatorMind digest service: a Cloud Run
// friendly HTTP server that, when triggered, decides which creators are due
// for their idea digest and delivers it by email.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"creatormind/config"
	"creatormind/delivery"
	"creatormind/deliverylog"
	"creatormind/email"
	"creatormind/ideas"
	"creatormind/metrics"
	profilestore "creatormind/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "creatormind",
		Short:         "Scheduled video idea digests for creators",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: CONFIG_PATH or ./config.yaml)")

	load := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		logger := newLogger(os.Stdout, cfg.Logging)
		slog.SetDefault(logger)
		return cfg, logger, nil
	}

	root.AddCommand(
		newServeCommand(load),
		newRunCommand(load),
		newEvaluateCommand(load),
		newHistoryCommand(load),
		newProfileCommand(load),
		newSendCommand(load),
	)
	return root
}

// loader resolves configuration and the logger once flags are parsed.
type loader func() (*config.Config, *slog.Logger, error)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger returns a JSON logger for Cloud Run and a text logger for terminals.
func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	format := cfg.Format
	if format == "auto" || format == "" {
		format = "json"
		if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
			format = "text"
		}
	}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// app holds the wired collaborators shared by the commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	profiles *profilestore.Store
	log      *deliverylog.Store
	metrics  *metrics.Metrics
	runner   *delivery.Runner
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	profiles, err := a.openProfiles(ctx)
	if err != nil {
		return nil, err
	}
	a.profiles = profiles

	logStore, err := deliverylog.Open(ctx, cfg.Storage.DatabasePath, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open delivery log: %w", err)
	}
	a.log = logStore
	a.closers = append(a.closers, logStore.Close)

	provider, err := newEmailProvider(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	sender := email.New(provider, logger, cfg.Server.BaseURL, cfg.Email.RatePerSecond)

	var generator delivery.Generator
	if cfg.Ideas.Static || cfg.Ideas.APIKey == "" {
		logger.Info("Using static idea generator", "reason", staticReason(cfg.Ideas))
		generator = ideas.NewStatic(logger)
	} else {
		generator = ideas.New(ideas.Config{
			BaseURL: cfg.Ideas.BaseURL,
			APIKey:  cfg.Ideas.APIKey,
			Model:   cfg.Ideas.Model,
			Timeout: cfg.Ideas.Timeout,
		}, logger)
	}

	var locker delivery.Locker = &delivery.MemoryLock{}
	if cfg.Storage.LockPath != "" {
		fl, err := delivery.NewFileLock(cfg.Storage.LockPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		locker = fl
	}

	a.metrics = metrics.New(prometheus.DefaultRegisterer)
	a.runner = delivery.New(a.profiles, a.log, generator, sender, logger, delivery.Options{
		Locker:      locker,
		Observer:    a.metrics,
		UserTimeout: cfg.Delivery.UserTimeout,
	})
	return a, nil
}

func staticReason(cfg config.IdeasConfig) string {
	if cfg.Static {
		return "configured"
	}
	return "no IDEAS_API_KEY"
}

func (a *app) openProfiles(ctx context.Context) (*profilestore.Store, error) {
	salt := []byte(a.cfg.Storage.Salt)
	if a.cfg.LocalMode() {
		a.logger.Info("Running in local development mode", "storage_path", a.cfg.Storage.LocalPath)
		if err := os.MkdirAll(a.cfg.Storage.LocalPath, 0o755); err != nil {
			return nil, fmt.Errorf("create local storage directory: %w", err)
		}
		return profilestore.New(nil, "", a.cfg.Storage.LocalPath, salt, a.logger), nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return profilestore.New(client, a.cfg.Storage.Bucket, "", salt, a.logger), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to close resource", "error", err)
		}
	}
	a.closers = nil
}

func newEmailProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (email.Provider, error) {
	name := cfg.EmailProvider()
	logger.Info("Email provider selected", "provider", name)

	switch name {
	case "mailjet":
		return email.NewMailjetProvider(cfg.Email.MailjetAPIKey, cfg.Email.MailjetSecretKey, cfg.Email.FromAddress, cfg.Email.FromName, logger), nil
	case "brevo":
		return email.NewBrevoProvider(cfg.Email.BrevoAPIKey, cfg.Email.FromAddress, cfg.Email.FromName, logger), nil
	case "gmail":
		svc, err := initGmailService(ctx, cfg.Email.GoogleCredentials)
		if err != nil {
			if cfg.LocalMode() {
				logger.Warn("Failed to initialize Gmail service, using mock email", "error", err)
				return email.NewMockProvider(logger), nil
			}
			return nil, fmt.Errorf("initialize gmail service: %w", err)
		}
		return email.NewGmailProvider(svc, logger), nil
	case "mock":
		if !cfg.LocalMode() {
			logger.Warn("Mock email provider in production mode; no digests will leave this process")
		}
		return email.NewMockProvider(logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", name)
	}
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// Application Default Credentials; the service account needs the gmail.send scope.
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
