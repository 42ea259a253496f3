package mail

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DefaultRecentLimit bounds FindRecentByUser when the caller passes no limit.
const DefaultRecentLimit = 10

// LogStore persists mail logs and their status transitions.
type LogStore interface {
	Create(ctx context.Context, in NewLog) (*Log, error)
	// FindByID returns ErrLogNotFound when the log does not exist.
	FindByID(ctx context.Context, id uuid.UUID) (*Log, error)
	// FindRecentByUser returns the user's logs newest first, at most limit entries.
	FindRecentByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Log, error)
	// UpdateStatus also stamps sent_at when status is SENT.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, providerMessageID *string) error
	// IncrementRetry is a no-op when the log does not exist.
	IncrementRetry(ctx context.Context, id uuid.UUID, errorMessage string) error
	DeleteOlderThanWithStatus(ctx context.Context, cutoff time.Time, status Status) (int64, error)
	// ListStalePending returns PENDING logs with no recorded attempt created before olderThan.
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]Log, error)
}

// Enqueuer hands a dispatch job to the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, job DispatchJob) error
}

// Renderer turns a kind and its variables into a complete HTML document.
type Renderer interface {
	Render(kind Kind, vars Variables) (string, error)
}

// Provider delivers one message and returns the provider's message id.
type Provider interface {
	Send(ctx context.Context, msg Message) (string, error)
}
