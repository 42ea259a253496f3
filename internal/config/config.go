// Package config loads process configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/gsarma/mailer/internal/email"
	"github.com/gsarma/mailer/internal/mail"
	"github.com/gsarma/mailer/internal/maintenance"
	"github.com/gsarma/mailer/internal/queue"
	"github.com/gsarma/mailer/internal/worker"
)

// Process modes.
const (
	ModeServe  = "serve"
	ModeAPI    = "api"
	ModeWorker = "worker"
)

// Queue backends.
const (
	QueuePostgres = "postgres"
	QueueRedis    = "redis"
)

type Config struct {
	Mode string
	Port string

	DatabaseURL      string
	DatabaseMaxConns int32

	QueueBackend string
	RedisURL     string
	RedisPrefix  string

	WorkerConcurrency  int
	WorkerPollInterval time.Duration

	MaxAttempts    int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
	JobLease       time.Duration

	AppName    string
	AppBaseURL string
	FromEmail  string
	FromName   string
	Email      email.Config

	RetentionInterval time.Duration
	RetentionMaxAge   time.Duration
	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration

	// APIKeys guard the HTTP surface; empty disables authentication.
	APIKeys []string

	LogLevel  string
	LogFormat string
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds and validates a Config from the process environment only.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Mode: getEnv("MODE", ModeServe),
		Port: getEnv("PORT", "8080"),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DatabaseMaxConns: int32(p.integer("DATABASE_MAX_CONNS", 10)),

		QueueBackend: getEnv("QUEUE_BACKEND", QueuePostgres),
		RedisURL:     os.Getenv("REDIS_URL"),
		RedisPrefix:  getEnv("REDIS_PREFIX", "mailer"),

		WorkerConcurrency:  p.integer("WORKER_CONCURRENCY", worker.DefaultConcurrency),
		WorkerPollInterval: p.duration("WORKER_POLL_INTERVAL", worker.DefaultPollInterval),

		MaxAttempts:    p.integer("MAIL_MAX_ATTEMPTS", mail.DefaultMaxAttempts),
		BackoffBase:    p.duration("MAIL_BACKOFF_BASE", queue.DefaultBaseDelay),
		AttemptTimeout: p.duration("MAIL_ATTEMPT_TIMEOUT", mail.DefaultAttemptTimeout),
		JobLease:       p.duration("MAIL_JOB_LEASE", queue.DefaultLease),

		AppName:    getEnv("APP_NAME", "Our App"),
		AppBaseURL: getEnv("APP_BASE_URL", "http://localhost:8080"),
		FromEmail:  os.Getenv("MAIL_FROM_ADDRESS"),
		FromName:   os.Getenv("MAIL_FROM_NAME"),
		Email: email.Config{
			Provider: getEnv("MAIL_PROVIDER", email.ProviderLog),
			SendGrid: email.SendGridConfig{
				APIKey:   os.Getenv("SENDGRID_API_KEY"),
				Endpoint: os.Getenv("SENDGRID_ENDPOINT"),
			},
			SMTP: email.SMTPConfig{
				Host:               os.Getenv("SMTP_HOST"),
				Port:               p.integer("SMTP_PORT", 587),
				Username:           os.Getenv("SMTP_USERNAME"),
				Password:           os.Getenv("SMTP_PASSWORD"),
				InsecureSkipVerify: p.boolean("SMTP_INSECURE_SKIP_VERIFY", false),
			},
			Graph: email.GraphConfig{
				TenantID:     os.Getenv("GRAPH_TENANT_ID"),
				ClientID:     os.Getenv("GRAPH_CLIENT_ID"),
				ClientSecret: os.Getenv("GRAPH_CLIENT_SECRET"),
				Mailbox:      os.Getenv("GRAPH_MAILBOX"),
			},
			HTTPTimeout: p.duration("MAIL_HTTP_TIMEOUT", 30*time.Second),
		},

		RetentionInterval: p.duration("RETENTION_INTERVAL", maintenance.DefaultRetentionInterval),
		RetentionMaxAge:   p.duration("RETENTION_MAX_AGE", maintenance.DefaultRetentionMaxAge),
		ReconcileInterval: p.duration("RECONCILE_INTERVAL", maintenance.DefaultReconcileInterval),
		ReconcileGrace:    p.duration("RECONCILE_GRACE", maintenance.DefaultReconcileGrace),

		APIKeys: splitList(os.Getenv("API_KEYS")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
	if err := errors.Join(append(p.errs, cfg.validate()...)...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.Mode {
	case ModeServe, ModeAPI, ModeWorker:
	default:
		errs = append(errs, fmt.Errorf("MODE must be one of serve, api, worker; got %q", c.Mode))
	}
	switch c.QueueBackend {
	case QueuePostgres:
	case QueueRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required when QUEUE_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND must be postgres or redis; got %q", c.QueueBackend))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("MAIL_MAX_ATTEMPTS must be at least 1"))
	}
	if c.JobLease <= c.AttemptTimeout {
		errs = append(errs, fmt.Errorf("MAIL_JOB_LEASE (%s) must exceed MAIL_ATTEMPT_TIMEOUT (%s)", c.JobLease, c.AttemptTimeout))
	}
	if c.Email.Provider != email.ProviderLog && c.FromEmail == "" {
		errs = append(errs, errors.New("MAIL_FROM_ADDRESS is required for real providers"))
	}
	return errs
}

// Sender is the From address of every outgoing mail.
func (c *Config) Sender() mail.Address {
	from := c.FromEmail
	if from == "" {
		from = "noreply@localhost"
	}
	return mail.Address{Email: from, Name: c.FromName}
}

// QueuePolicy is the retry policy shared by the queue and the worker.
func (c *Config) QueuePolicy() queue.Policy {
	return queue.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BackoffBase,
		Lease:       c.JobLease,
	}
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// parser collects conversion errors so every bad key is reported at once.
type parser struct {
	errs []error
}

func (p *parser) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
