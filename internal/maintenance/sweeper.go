// Package maintenance runs the periodic housekeeping tasks: the retention
// sweep of old SENT logs and the re-enqueue of orphaned PENDING logs.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/mail"
	"github.com/gsarma/mailer/internal/metrics"
)

const (
	DefaultRetentionInterval = 24 * time.Hour
	DefaultRetentionMaxAge   = 365 * 24 * time.Hour
)

// LogDeleter is the part of mail.LogStore the sweeper needs.
type LogDeleter interface {
	DeleteOlderThanWithStatus(ctx context.Context, cutoff time.Time, status mail.Status) (int64, error)
}

// Sweeper deletes SENT logs older than MaxAge. PENDING and FAILED logs are
// kept regardless of age.
type Sweeper struct {
	store  LogDeleter
	maxAge time.Duration
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewSweeper(store LogDeleter, maxAge time.Duration, log *zap.SugaredLogger) *Sweeper {
	if maxAge <= 0 {
		maxAge = DefaultRetentionMaxAge
	}
	return &Sweeper{
		store:  store,
		maxAge: maxAge,
		log:    log.Named("retention"),
		now:    time.Now,
	}
}

func (s *Sweeper) Name() string { return "retention" }

// RunOnce performs a single sweep and returns the number of deleted logs.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.store.DeleteOlderThanWithStatus(ctx, cutoff, mail.StatusSent)
	if err != nil {
		return 0, fmt.Errorf("delete sent logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	metrics.RetentionDeleted.Add(float64(n))
	s.log.Infow("Retention sweep finished", "deleted", n, "cutoff", cutoff)
	return n, nil
}
