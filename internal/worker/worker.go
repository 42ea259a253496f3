package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/mail"
	"github.com/gsarma/mailer/internal/queue"
)

const (
	DefaultConcurrency  = 5
	DefaultPollInterval = 500 * time.Millisecond

	// DeliveredUnrecordedPrefix starts the last error of a retained job whose
	// mail went out but whose log could not be marked SENT.
	DeliveredUnrecordedPrefix = "delivered, status write failed: "

	// bookkeepingTimeout bounds queue updates made after an attempt, which
	// run detached from the worker context so shutdown cannot strand a lease.
	bookkeepingTimeout = 10 * time.Second
)

// JobProcessor runs one delivery attempt. attempt is 0-based.
type JobProcessor interface {
	Process(ctx context.Context, job mail.DispatchJob, attempt int) mail.Outcome
}

// Config tunes a Worker.
type Config struct {
	Concurrency  int
	PollInterval time.Duration
	Policy       queue.Policy
}

// Worker polls the queue for dispatch jobs and processes them concurrently.
type Worker struct {
	queue     queue.Backend
	processor JobProcessor
	cfg       Config
	log       *zap.SugaredLogger
}

func New(q queue.Backend, processor JobProcessor, cfg Config, log *zap.SugaredLogger) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Worker{
		queue:     q,
		processor: processor,
		cfg:       cfg,
		log:       log.Named("worker"),
	}
}

// Start spawns Concurrency goroutines that each poll for jobs every
// PollInterval. It blocks until ctx is cancelled and every in-flight job
// has been handed back to the queue.
func (w *Worker) Start(ctx context.Context) {
	w.log.Infow("Starting mail worker",
		"backend", w.queue.Name(),
		"concurrency", w.cfg.Concurrency,
		"pollInterval", w.cfg.PollInterval)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
	w.log.Info("Mail worker stopped")
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Drain ready jobs before waiting for the next tick.
			for ctx.Err() == nil && w.processNext(ctx) {
			}
		}
	}
}

// processNext claims and handles one job. It reports whether a job was claimed.
func (w *Worker) processNext(ctx context.Context) bool {
	job, err := w.queue.Claim(ctx)
	if err != nil {
		if !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
			w.log.Errorw("Failed to claim job", "error", err)
		}
		return false
	}

	outcome := w.run(ctx, job)

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	log := w.log.With("jobID", job.ID, "attempt", job.Attempt, "maxAttempts", job.MaxAttempts)
	switch outcome.Status {
	case mail.Succeeded:
		err = w.queue.Complete(bctx, job)
	case mail.RetryableFailure:
		delay := w.cfg.Policy.Backoff(job.Attempt)
		log.Infow("Scheduling redelivery", "delay", delay)
		err = w.queue.Retry(bctx, job, delay, mail.ErrorMessage(outcome.Err))
	case mail.TerminalFailure:
		err = w.queue.Exhaust(bctx, job, mail.ErrorMessage(outcome.Err))
	case mail.DeliveredUnrecorded:
		// Keep the job so the log is never treated as an orphan and resent.
		log.Errorw("Delivered mail has no SENT record; retaining job for inspection",
			"providerMessageID", outcome.MessageID)
		err = w.queue.Exhaust(bctx, job, DeliveredUnrecordedPrefix+mail.ErrorMessage(outcome.Err))
	}
	if err != nil {
		// The lease will expire and the job will be redelivered.
		log.Errorw("Failed to update job after processing", "outcome", outcome.Status.String(), "error", err)
	}
	return true
}

// run hands the job to the processor. A panic counts as a failed attempt.
func (w *Worker) run(ctx context.Context, job *queue.Job) (outcome mail.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorw("Recovered from panic while processing job", "jobID", job.ID, "panic", r)
			status := mail.RetryableFailure
			if !job.AttemptsLeft() {
				status = mail.TerminalFailure
			}
			outcome = mail.Outcome{Status: status, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return w.processor.Process(ctx, job.Payload, job.Attempt-1)
}
