package maintenance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a periodic housekeeping job.
type Task interface {
	Name() string
	RunOnce(ctx context.Context) (int64, error)
}

// Scheduled pairs a task with its interval.
type Scheduled struct {
	Task     Task
	Interval time.Duration
}

// Run runs every task once at start and then on its interval until ctx is
// cancelled. It blocks until all task loops have returned.
func Run(ctx context.Context, log *zap.SugaredLogger, tasks ...Scheduled) {
	var wg sync.WaitGroup
	for _, s := range tasks {
		if s.Interval <= 0 {
			continue
		}
		wg.Add(1)
		go func(s Scheduled) {
			defer wg.Done()
			loop(ctx, log, s)
		}(s)
	}
	wg.Wait()
}

func loop(ctx context.Context, log *zap.SugaredLogger, s Scheduled) {
	log = log.With("task", s.Task.Name(), "interval", s.Interval)
	log.Info("Starting maintenance task")
	defer log.Info("Maintenance task stopped")

	runOnce(ctx, log, s.Task)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, log, s.Task)
		}
	}
}

func runOnce(ctx context.Context, log *zap.SugaredLogger, t Task) {
	if _, err := t.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.Errorw("Maintenance task failed", "error", err)
	}
}
