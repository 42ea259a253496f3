package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/metrics"
)

const (
	// DefaultMaxAttempts is the total number of delivery attempts per job.
	DefaultMaxAttempts = 3
	// DefaultAttemptTimeout bounds a single render-and-send attempt.
	DefaultAttemptTimeout = 30 * time.Second

	// sentWriteAttempts bounds how often a SENT status write is tried after
	// the provider accepted the message.
	sentWriteAttempts = 3
	sentWriteBackoff  = 100 * time.Millisecond
)

// OutcomeStatus classifies the result of one dispatch attempt.
type OutcomeStatus int

const (
	// Succeeded: the log is terminal (delivered now or on an earlier delivery).
	Succeeded OutcomeStatus = iota
	// RetryableFailure: the attempt failed and the queue should redeliver later.
	RetryableFailure
	// TerminalFailure: the final attempt failed and the log is FAILED.
	TerminalFailure
	// DeliveredUnrecorded: the provider accepted the message but the log could
	// not be marked SENT. The job must be kept, never redelivered or discarded,
	// so the log is not mistaken for an orphan and sent again.
	DeliveredUnrecorded
)

func (s OutcomeStatus) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case RetryableFailure:
		return "retryable_failure"
	case TerminalFailure:
		return "terminal_failure"
	case DeliveredUnrecorded:
		return "delivered_unrecorded"
	}
	return "unknown"
}

// Outcome is what the processor reports back to the queue adapter. Err is set
// for every failed attempt, including the last one.
type Outcome struct {
	Status    OutcomeStatus
	Err       error
	MessageID string
}

// Failed reports whether the attempt did not deliver.
func (o Outcome) Failed() bool {
	return o.Status == RetryableFailure || o.Status == TerminalFailure
}

// ProcessorConfig tunes a Processor.
type ProcessorConfig struct {
	Sender         Address
	MaxAttempts    int
	AttemptTimeout time.Duration
	// ProviderName labels provider latency metrics.
	ProviderName string
}

// Processor runs one delivery attempt for a dispatch job and reconciles the
// mail log with the result. It never touches queue state; the caller turns
// the returned Outcome into completion, redelivery or exhaustion.
type Processor struct {
	store    LogStore
	renderer Renderer
	provider Provider
	cfg      ProcessorConfig
	log      *zap.SugaredLogger
}

// NewProcessor creates a Processor, applying defaults for zero config values.
func NewProcessor(store LogStore, renderer Renderer, provider Provider, cfg ProcessorConfig, log *zap.SugaredLogger) *Processor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "default"
	}
	return &Processor{
		store:    store,
		renderer: renderer,
		provider: provider,
		cfg:      cfg,
		log:      log.Named("mail-processor"),
	}
}

// Process handles one delivery of job. attempt is the 0-based index of this
// delivery within the queue's attempt budget.
func (p *Processor) Process(ctx context.Context, job DispatchJob, attempt int) Outcome {
	log := p.log.With("logID", job.LogID, "kind", job.Kind, "attempt", attempt+1, "maxAttempts", p.cfg.MaxAttempts)

	// Redelivery of a job whose log already reached a terminal state must not send twice.
	if current, err := p.store.FindByID(ctx, job.LogID); err == nil && current.Status.Terminal() {
		log.Infow("Mail log already terminal, skipping delivery", "status", current.Status)
		return Outcome{Status: Succeeded}
	} else if err != nil && !errors.Is(err, ErrLogNotFound) {
		log.Warnw("Could not read mail log before delivery, attempting anyway", "error", err)
	}

	// Leases that expired mid-attempt still consume the budget.
	if attempt >= p.cfg.MaxAttempts {
		return p.fail(ctx, job, attempt, ErrAttemptsExhausted, log)
	}

	messageID, err := p.attempt(ctx, job)
	if err != nil {
		return p.fail(ctx, job, attempt, err, log)
	}

	metrics.MailAttempts.WithLabelValues(string(job.Kind), Succeeded.String()).Inc()
	if err := p.markSent(ctx, job, messageID); err != nil {
		log.Errorw("Mail delivered but log could not be marked as sent",
			"providerMessageID", messageID,
			"error", err)
		return Outcome{Status: DeliveredUnrecorded, Err: err, MessageID: messageID}
	}
	metrics.MailSent.WithLabelValues(string(job.Kind)).Inc()
	log.Infow("Mail sent", "providerMessageID", messageID, "recipient", job.RecipientEmail)
	return Outcome{Status: Succeeded, MessageID: messageID}
}

// markSent records the delivery, retrying briefly. It runs detached from ctx:
// the message is already out and shutdown must not lose that fact.
func (p *Processor) markSent(ctx context.Context, job DispatchJob, messageID string) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for i := 1; i <= sentWriteAttempts; i++ {
		if err = p.store.UpdateStatus(ctx, job.LogID, StatusSent, &messageID); err == nil {
			return nil
		}
		if i < sentWriteAttempts {
			time.Sleep(time.Duration(i) * sentWriteBackoff)
		}
	}
	return fmt.Errorf("mark log sent after %d tries: %w", sentWriteAttempts, err)
}

// attempt renders and sends within the per-attempt timeout.
func (p *Processor) attempt(ctx context.Context, job DispatchJob) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()

	html, err := p.renderer.Render(job.Kind, job.Variables)
	if err != nil {
		return "", fmt.Errorf("render %s template: %w", job.Kind, err)
	}

	start := time.Now()
	messageID, err := p.provider.Send(ctx, Message{
		From:    p.cfg.Sender,
		To:      job.RecipientEmail,
		Subject: job.Subject,
		HTML:    html,
	})
	metrics.ProviderLatency.WithLabelValues(p.cfg.ProviderName).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("delivery timed out after %s: %w", p.cfg.AttemptTimeout, err)
		}
		return "", err
	}
	return messageID, nil
}

// fail records the failure on the log and decides between retry and terminal failure.
func (p *Processor) fail(ctx context.Context, job DispatchJob, attempt int, cause error, log *zap.SugaredLogger) Outcome {
	// Bookkeeping must survive cancellation of the attempt context.
	ctx = context.WithoutCancel(ctx)
	message := ErrorMessage(cause)

	if err := p.store.IncrementRetry(ctx, job.LogID, message); err != nil {
		log.Errorw("Failed to record delivery failure", "error", err)
	}

	final := attempt >= p.cfg.MaxAttempts-1
	if current, err := p.store.FindByID(ctx, job.LogID); err == nil {
		if current.RetryCount >= p.cfg.MaxAttempts {
			final = true
		}
	} else if !errors.Is(err, ErrLogNotFound) {
		log.Warnw("Could not re-read mail log after failure", "error", err)
	}

	if !final {
		metrics.MailAttempts.WithLabelValues(string(job.Kind), RetryableFailure.String()).Inc()
		log.Warnw("Mail delivery failed, will retry", "error", message)
		return Outcome{Status: RetryableFailure, Err: cause}
	}

	if err := p.store.UpdateStatus(ctx, job.LogID, StatusFailed, nil); err != nil && !errors.Is(err, ErrLogNotFound) {
		log.Errorw("Failed to mark mail log as failed", "error", err)
	}
	metrics.MailAttempts.WithLabelValues(string(job.Kind), TerminalFailure.String()).Inc()
	metrics.MailFailed.WithLabelValues(string(job.Kind)).Inc()
	log.Errorw("Mail delivery failed on final attempt", "error", message, "recipient", job.RecipientEmail)
	return Outcome{Status: TerminalFailure, Err: cause}
}
