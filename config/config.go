// Package config loads service configuration from defaults, an optional YAML
// file and the environment, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order when CONFIG_PATH is unset.
var DefaultConfigPaths = []string{"config.yaml", "/etc/creatormind/config.yaml"}

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Email    EmailConfig    `koanf:"email"`
	Ideas    IdeasConfig    `koanf:"ideas"`
	Delivery DeliveryConfig `koanf:"delivery"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port          string `koanf:"port" validate:"required,numeric"`
	BaseURL       string `koanf:"base_url" validate:"omitempty,url"`
	CronSecret    string `koanf:"cron_secret"`
	WebhookSecret string `koanf:"webhook_secret"`
	RateLimit     int    `koanf:"rate_limit" validate:"min=0"` // requests per minute per IP, 0 disables
}

// StorageConfig selects where profiles and the delivery log live.
type StorageConfig struct {
	Bucket       string `koanf:"bucket"`
	LocalPath    string `koanf:"local_path"`
	Salt         string `koanf:"salt"`
	DatabasePath string `koanf:"database_path" validate:"required"`
	LockPath     string `koanf:"lock_path"`
}

// EmailConfig selects and configures the email provider.
type EmailConfig struct {
	Provider          string  `koanf:"provider" validate:"oneof=auto mailjet brevo gmail mock"`
	FromAddress       string  `koanf:"from_address" validate:"omitempty,email"`
	FromName          string  `koanf:"from_name"`
	MailjetAPIKey     string  `koanf:"mailjet_api_key"`
	MailjetSecretKey  string  `koanf:"mailjet_secret_key"`
	BrevoAPIKey       string  `koanf:"brevo_api_key"`
	GoogleCredentials string  `koanf:"google_credentials_json"`
	RatePerSecond     float64 `koanf:"rate_per_second" validate:"min=0"`
}

// IdeasConfig configures the idea generation client.
type IdeasConfig struct {
	BaseURL string        `koanf:"base_url" validate:"omitempty,url"`
	APIKey  string        `koanf:"api_key"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
	Static  bool          `koanf:"static"`
}

// DeliveryConfig configures cycles.
type DeliveryConfig struct {
	UserTimeout  time.Duration `koanf:"user_timeout"`
	CronSchedule string        `koanf:"cron_schedule"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=auto json text"`
}

// Defaults returns the configuration used before any file or environment is applied.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      "8080",
			RateLimit: 60,
		},
		Storage: StorageConfig{
			DatabasePath: "./data/delivery.db",
		},
		Email: EmailConfig{
			Provider:      "auto",
			FromAddress:   "ideas@creatormind.app",
			FromName:      "CreatorMind",
			RatePerSecond: 2,
		},
		Ideas: IdeasConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: 60 * time.Second,
		},
		Delivery: DeliveryConfig{
			UserTimeout: 2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

var envMappings = map[string]string{
	"port":                    "server.port",
	"base_url":                "server.base_url",
	"cron_secret":             "server.cron_secret",
	"webhook_secret":          "server.webhook_secret",
	"rate_limit":              "server.rate_limit",
	"storage_bucket":          "storage.bucket",
	"local_storage":           "storage.local_path",
	"token_salt":              "storage.salt",
	"database_path":           "storage.database_path",
	"lock_path":               "storage.lock_path",
	"email_provider":          "email.provider",
	"email_from":              "email.from_address",
	"email_from_name":         "email.from_name",
	"mailjet_api_key":         "email.mailjet_api_key",
	"mailjet_secret_key":      "email.mailjet_secret_key",
	"brevo_api_key":           "email.brevo_api_key",
	"google_credentials_json": "email.google_credentials_json",
	"email_rate_per_second":   "email.rate_per_second",
	"ideas_base_url":          "ideas.base_url",
	"ideas_api_key":           "ideas.api_key",
	"openai_api_key":          "ideas.api_key",
	"ideas_model":             "ideas.model",
	"ideas_timeout":           "ideas.timeout",
	"ideas_static":            "ideas.static",
	"user_timeout":            "delivery.user_timeout",
	"cron_schedule":           "delivery.cron_schedule",
	"log_level":               "logging.level",
	"log_format":              "logging.format",
}

// envTransform maps environment variable names to koanf paths. Unknown
// variables map to "" and are ignored.
func envTransform(key string) string {
	return envMappings[strings.ToLower(key)]
}

// Load builds the configuration. path overrides CONFIG_PATH and the default
// search paths when non-empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	cfg.applyModeDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applyModeDefaults fills the defaults that depend on other settings.
// Without a bucket the service runs in local development mode.
func (c *Config) applyModeDefaults() {
	if c.Storage.Bucket == "" && c.Storage.LocalPath == "" {
		c.Storage.LocalPath = "./data"
	}
	if c.LocalMode() && c.Server.BaseURL == "" {
		c.Server.BaseURL = "http://localhost:" + c.Server.Port
	}
	if c.Storage.LockPath == "" && c.LocalMode() {
		c.Storage.LockPath = c.Storage.LocalPath + "/cycle.lock"
	}
	if c.LocalMode() && c.Storage.Salt == "" {
		c.Storage.Salt = "local-development-salt"
	}
}

// LocalMode reports whether profiles are stored in a local directory.
func (c *Config) LocalMode() bool {
	return c.Storage.LocalPath != ""
}

// EmailProvider resolves "auto" to the first provider with credentials, or mock.
func (c *Config) EmailProvider() string {
	if c.Email.Provider != "auto" {
		return c.Email.Provider
	}
	switch {
	case c.Email.MailjetAPIKey != "" && c.Email.MailjetSecretKey != "":
		return "mailjet"
	case c.Email.BrevoAPIKey != "":
		return "brevo"
	case c.Email.GoogleCredentials != "":
		return "gmail"
	default:
		return "mock"
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the production requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return err
	}

	if c.LocalMode() {
		return nil
	}
	if c.Server.BaseURL == "" {
		return errors.New("BASE_URL is required when STORAGE_BUCKET is set")
	}
	if c.Storage.Salt == "" {
		return errors.New("TOKEN_SALT is required when STORAGE_BUCKET is set")
	}
	if c.Server.CronSecret == "" {
		return errors.New("CRON_SECRET is required when STORAGE_BUCKET is set")
	}
	switch c.Email.Provider {
	case "mailjet":
		if c.Email.MailjetAPIKey == "" || c.Email.MailjetSecretKey == "" {
			return errors.New("MAILJET_API_KEY and MAILJET_SECRET_KEY are required for the mailjet provider")
		}
	case "brevo":
		if c.Email.BrevoAPIKey == "" {
			return errors.New("BREVO_API_KEY is required for the brevo provider")
		}
	}
	return nil
}
