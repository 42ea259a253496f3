package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/mail"
	"github.com/gsarma/mailer/internal/metrics"
)

const (
	DefaultReconcileInterval = 5 * time.Minute
	DefaultReconcileGrace    = 10 * time.Minute
	reconcileBatchSize       = 100
)

// PendingLister is the part of mail.LogStore the reconciler needs.
type PendingLister interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]mail.Log, error)
}

// JobIndex looks up and creates dispatch jobs.
type JobIndex interface {
	mail.Enqueuer
	Has(ctx context.Context, logID uuid.UUID) (bool, error)
}

// Reconciler re-enqueues PENDING logs whose dispatch job was never created,
// which happens when the enqueue after log creation fails. Logs younger
// than the grace period are left alone so in-flight submissions are not raced.
type Reconciler struct {
	store PendingLister
	jobs  JobIndex
	grace time.Duration
	log   *zap.SugaredLogger
	now   func() time.Time
}

func NewReconciler(store PendingLister, jobs JobIndex, grace time.Duration, log *zap.SugaredLogger) *Reconciler {
	if grace <= 0 {
		grace = DefaultReconcileGrace
	}
	return &Reconciler{
		store: store,
		jobs:  jobs,
		grace: grace,
		log:   log.Named("reconciler"),
		now:   time.Now,
	}
}

func (r *Reconciler) Name() string { return "reconciler" }

// RunOnce re-enqueues orphans and returns how many it enqueued. A failure
// on one log is logged and does not stop the pass.
func (r *Reconciler) RunOnce(ctx context.Context) (int64, error) {
	logs, err := r.store.ListStalePending(ctx, r.now().Add(-r.grace), reconcileBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale pending logs: %w", err)
	}

	var requeued int64
	for i := range logs {
		l := &logs[i]
		has, err := r.jobs.Has(ctx, l.ID)
		if err != nil {
			r.log.Warnw("Could not check job for pending log", "logID", l.ID, "error", err)
			continue
		}
		if has {
			continue
		}
		if err := r.jobs.Enqueue(ctx, l.Job()); err != nil {
			r.log.Errorw("Failed to re-enqueue orphaned log", "logID", l.ID, "error", err)
			continue
		}
		requeued++
		metrics.OrphansRequeued.Inc()
		r.log.Infow("Re-enqueued orphaned mail log", "logID", l.ID, "kind", l.Kind, "createdAt", l.CreatedAt)
	}
	return requeued, nil
}
