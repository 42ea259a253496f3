// Package mailtest provides in-memory collaborators for exercising the mail
// core without Postgres, Redis or a real email provider.
package mailtest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gsarma/mailer/internal/mail"
)

// Store is an in-memory mail.LogStore.
type Store struct {
	mu   sync.Mutex
	logs map[uuid.UUID]*mail.Log
	Now  func() time.Time

	// CreateErr, when set, is returned by Create.
	CreateErr error
	// FailSentUpdates makes the next n UpdateStatus(SENT) calls fail.
	FailSentUpdates int
}

// NewStore returns an empty Store using time.Now.
func NewStore() *Store {
	return &Store{logs: map[uuid.UUID]*mail.Log{}, Now: time.Now}
}

func (s *Store) Create(_ context.Context, in mail.NewLog) (*mail.Log, error) {
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.Now()
	l := &mail.Log{
		ID:             uuid.New(),
		RecipientEmail: in.RecipientEmail,
		UserID:         in.UserID,
		Kind:           in.Kind,
		Subject:        in.Subject,
		Variables:      in.Variables,
		Status:         mail.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.logs[l.ID] = l
	cp := *l
	return &cp, nil
}

// Put inserts or replaces a log as-is.
func (s *Store) Put(l mail.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := l
	s.logs[l.ID] = &cp
}

func (s *Store) FindByID(_ context.Context, id uuid.UUID) (*mail.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return nil, mail.ErrLogNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *Store) FindRecentByUser(_ context.Context, userID uuid.UUID, limit int) ([]mail.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mail.Log
	for _, l := range s.logs {
		if l.UserID != nil && *l.UserID == userID {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, status mail.Status, providerMessageID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == mail.StatusSent && s.FailSentUpdates > 0 {
		s.FailSentUpdates--
		return errors.New("connection reset by peer")
	}
	l, ok := s.logs[id]
	if !ok {
		return mail.ErrLogNotFound
	}
	now := s.Now()
	l.Status = status
	l.UpdatedAt = now
	if providerMessageID != nil {
		id := *providerMessageID
		l.ProviderMessageID = &id
	}
	if status == mail.StatusSent {
		l.SentAt = &now
	}
	return nil
}

func (s *Store) IncrementRetry(_ context.Context, id uuid.UUID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.logs[id]
	if !ok {
		return nil
	}
	msg := errorMessage
	l.RetryCount++
	l.ErrorMessage = &msg
	l.UpdatedAt = s.Now()
	return nil
}

func (s *Store) DeleteOlderThanWithStatus(_ context.Context, cutoff time.Time, status mail.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, l := range s.logs {
		if l.Status == status && l.CreatedAt.Before(cutoff) {
			delete(s.logs, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]mail.Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mail.Log
	for _, l := range s.logs {
		if l.Status == mail.StatusPending && l.RetryCount == 0 && l.CreatedAt.Before(olderThan) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored logs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

// Queue records enqueued jobs.
type Queue struct {
	mu   sync.Mutex
	Jobs []mail.DispatchJob
	// Err, when set, is returned by Enqueue.
	Err error
}

func (q *Queue) Enqueue(_ context.Context, job mail.DispatchJob) error {
	if q.Err != nil {
		return q.Err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.Jobs = append(q.Jobs, job)
	return nil
}

func (q *Queue) Has(_ context.Context, logID uuid.UUID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, j := range q.Jobs {
		if j.LogID == logID {
			return true, nil
		}
	}
	return false, nil
}

// Len returns the number of recorded jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.Jobs)
}

// Provider fails the first FailFirst sends, then succeeds with MessageID.
type Provider struct {
	mu        sync.Mutex
	FailFirst int
	Err       error
	MessageID string
	Calls     int
	Sent      []mail.Message
}

func (p *Provider) Send(_ context.Context, msg mail.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls++
	if p.Calls <= p.FailFirst {
		if p.Err != nil {
			return "", p.Err
		}
		return "", errors.New("provider unavailable")
	}
	p.Sent = append(p.Sent, msg)
	if p.MessageID == "" {
		return "msg-" + uuid.NewString(), nil
	}
	return p.MessageID, nil
}

// CallCount returns the number of Send calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls
}

// Renderer returns a fixed document, or Err when set.
type Renderer struct {
	HTML string
	Err  error
}

func (r Renderer) Render(kind mail.Kind, _ mail.Variables) (string, error) {
	if r.Err != nil {
		return "", r.Err
	}
	if !kind.Valid() {
		return "", mail.ErrUnsupportedMailKind
	}
	if r.HTML == "" {
		return "<!DOCTYPE html><html><body>" + string(kind) + "</body></html>", nil
	}
	return r.HTML, nil
}
