// Package queue holds dispatch jobs between intake and the worker. Delivery is
// at-least-once: a claimed job is leased, and a job whose lease runs out
// without being completed, retried or exhausted becomes claimable again.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gsarma/mailer/internal/mail"
)

// ErrEmpty is returned by Claim when no job is ready.
var ErrEmpty = errors.New("queue: no job ready")

// Job is a claimed dispatch job. ID equals the log id of the payload, so a log
// never has more than one job.
type Job struct {
	ID      uuid.UUID
	Payload mail.DispatchJob
	// Attempt counts deliveries of this job including the current one (1-based).
	Attempt     int
	MaxAttempts int
	LastError   string
}

// AttemptsLeft reports whether a failed delivery may be retried.
func (j *Job) AttemptsLeft() bool {
	return j.Attempt < j.MaxAttempts
}

// Backend is a durable job store. Implementations must be safe for
// concurrent use by several workers and processes.
type Backend interface {
	// Enqueue adds a job for the payload's log. Enqueueing a log that already
	// has a job is a no-op.
	Enqueue(ctx context.Context, job mail.DispatchJob) error
	// Claim leases the next ready job, returning ErrEmpty when there is none.
	Claim(ctx context.Context) (*Job, error)
	// Complete discards a delivered job.
	Complete(ctx context.Context, job *Job) error
	// Retry releases the lease and makes the job ready again after delay.
	Retry(ctx context.Context, job *Job, delay time.Duration, lastError string) error
	// Exhaust retains the job as failed; it is never claimed again.
	Exhaust(ctx context.Context, job *Job, lastError string) error
	// Has reports whether a job (pending, leased or exhausted) exists for logID.
	Has(ctx context.Context, logID uuid.UUID) (bool, error)
	// Name labels metrics and logs.
	Name() string
}

// FailedJob is an exhausted job retained for inspection.
type FailedJob struct {
	ID          uuid.UUID
	Payload     mail.DispatchJob
	Attempt     int
	MaxAttempts int
	LastError   string
	FailedAt    time.Time
}

// Inspector lists exhausted jobs, most recently failed first.
type Inspector interface {
	Failed(ctx context.Context, limit int) ([]FailedJob, error)
}

// DefaultFailedLimit caps Failed when limit is not positive.
const DefaultFailedLimit = 50

const (
	DefaultMaxAttempts = mail.DefaultMaxAttempts
	DefaultBaseDelay   = 5 * time.Second
	DefaultLease       = 2 * time.Minute
)

// Policy is the retry policy shared by all backends.
type Policy struct {
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; each later wait doubles.
	BaseDelay time.Duration
	// Lease is how long a claimed job stays invisible to other workers. It
	// must exceed the per-attempt timeout.
	Lease time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Lease:       DefaultLease,
	}
}

// withDefaults fills zero fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Lease <= 0 {
		p.Lease = d.Lease
	}
	return p
}

// Backoff returns the delay before redelivering a job whose attempt-th
// delivery failed: base, 2·base, 4·base...
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 20 {
		attempt = 20
	}
	return p.BaseDelay * time.Duration(int64(1)<<uint(attempt-1))
}
