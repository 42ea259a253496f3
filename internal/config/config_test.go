package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mailer")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ModeServe, cfg.Mode)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, QueuePostgres, cfg.QueueBackend)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.WorkerPollInterval)
	assert.Equal(t, 24*time.Hour, cfg.RetentionInterval)
	assert.Equal(t, 365*24*time.Hour, cfg.RetentionMaxAge)
	assert.Equal(t, 10*time.Minute, cfg.ReconcileGrace)
	assert.Equal(t, "log", cfg.Email.Provider)
	assert.Empty(t, cfg.APIKeys)

	p := cfg.QueuePolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 5*time.Second, p.BaseDelay)
	assert.Equal(t, "noreply@localhost", cfg.Sender().Email)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mailer")
	t.Setenv("MODE", "worker")
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("MAIL_MAX_ATTEMPTS", "5")
	t.Setenv("MAIL_BACKOFF_BASE", "2s")
	t.Setenv("MAIL_PROVIDER", "smtp")
	t.Setenv("MAIL_FROM_ADDRESS", "noreply@acme.test")
	t.Setenv("MAIL_FROM_NAME", "Acme")
	t.Setenv("SMTP_HOST", "smtp.acme.test")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("API_KEYS", " key-one, ,key-two ")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ModeWorker, cfg.Mode)
	assert.Equal(t, QueueRedis, cfg.QueueBackend)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.BackoffBase)
	assert.Equal(t, 2525, cfg.Email.SMTP.Port)
	assert.Equal(t, "Acme", cfg.Sender().Name)
	assert.Equal(t, []string{"key-one", "key-two"}, cfg.APIKeys)
}

func TestFromEnv_ReportsEveryProblem(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("MAIL_MAX_ATTEMPTS", "three")
	t.Setenv("MAIL_PROVIDER", "sendgrid")
	t.Setenv("MAIL_JOB_LEASE", "10s")

	_, err := FromEnv()
	require.Error(t, err)
	for _, want := range []string{
		"DATABASE_URL is required",
		"REDIS_URL is required",
		"MAIL_MAX_ATTEMPTS",
		"MAIL_FROM_ADDRESS is required",
		"MAIL_JOB_LEASE",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestFromEnv_RejectsUnknownMode(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/mailer")
	t.Setenv("MODE", "both")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "MODE must be one of")
}
