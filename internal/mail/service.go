package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/metrics"
)

// Request is a validated-on-submit ask to send one transactional email.
type Request struct {
	Kind           Kind
	RecipientEmail string
	UserID         *uuid.UUID
	Variables      Variables
	// ExpiresAt is required for invitations and must not be in the past.
	ExpiresAt *time.Time
}

// WelcomeMail greets a newly registered user.
type WelcomeMail struct {
	Email  string
	Name   string
	UserID *uuid.UUID
}

// InvitationMail invites someone to join an organization.
type InvitationMail struct {
	Email            string
	InviterName      string
	OrganizationName string
	InviteURL        string
	ExpiresAt        time.Time
	UserID           *uuid.UUID
}

// Service accepts mail requests on the request path. It records a PENDING log,
// enqueues one dispatch job and returns without waiting for delivery.
type Service struct {
	store    LogStore
	queue    Enqueuer
	appName  string
	validate *validator.Validate
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewService creates a Service. appName is used when deriving subject lines.
func NewService(store LogStore, queue Enqueuer, appName string, log *zap.SugaredLogger) *Service {
	return &Service{
		store:    store,
		queue:    queue,
		appName:  appName,
		validate: validator.New(),
		log:      log.Named("mail-service"),
		now:      time.Now,
	}
}

// SendWelcome submits a WELCOME mail.
func (s *Service) SendWelcome(ctx context.Context, m WelcomeMail) (*Log, error) {
	return s.Submit(ctx, Request{
		Kind:           KindWelcome,
		RecipientEmail: m.Email,
		UserID:         m.UserID,
		Variables:      Variables{"name": m.Name},
	})
}

// SendInvitation submits an INVITATION mail.
func (s *Service) SendInvitation(ctx context.Context, m InvitationMail) (*Log, error) {
	expiresAt := m.ExpiresAt
	return s.Submit(ctx, Request{
		Kind:           KindInvitation,
		RecipientEmail: m.Email,
		UserID:         m.UserID,
		ExpiresAt:      &expiresAt,
		Variables: Variables{
			"inviterName":      m.InviterName,
			"organizationName": m.OrganizationName,
			"inviteUrl":        m.InviteURL,
			"expiresAt":        expiresAt.UTC().Format(time.RFC3339),
		},
	})
}

// Submit validates req, persists a PENDING log and enqueues its dispatch job.
//
// Validation failures create nothing. If the enqueue fails after the log was
// written, the log stays PENDING without a job and the error is returned; the
// orphan reconciler picks such logs up later.
func (s *Service) Submit(ctx context.Context, req Request) (*Log, error) {
	recipient := strings.TrimSpace(req.RecipientEmail)
	if err := s.validateRecipient(recipient); err != nil {
		metrics.MailRejected.WithLabelValues(string(req.Kind), "invalid_recipient").Inc()
		return nil, err
	}
	if !req.Kind.Valid() {
		metrics.MailRejected.WithLabelValues(string(req.Kind), "unsupported_kind").Inc()
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMailKind, req.Kind)
	}
	if req.Kind == KindInvitation {
		if req.ExpiresAt == nil || req.ExpiresAt.Before(s.now()) {
			metrics.MailRejected.WithLabelValues(string(req.Kind), "expired_invitation").Inc()
			return nil, ErrExpiredInvitation
		}
	}

	vars := req.Variables.Clone()
	if _, ok := vars["appName"]; !ok && s.appName != "" {
		vars["appName"] = s.appName
	}
	subject, err := Subject(req.Kind, vars, s.appName)
	if err != nil {
		return nil, err
	}

	entry, err := s.store.Create(ctx, NewLog{
		RecipientEmail: recipient,
		UserID:         req.UserID,
		Kind:           req.Kind,
		Subject:        subject,
		Variables:      vars,
	})
	if err != nil {
		return nil, fmt.Errorf("create mail log: %w", err)
	}

	if err := s.queue.Enqueue(ctx, entry.Job()); err != nil {
		metrics.MailEnqueueFailed.WithLabelValues(string(req.Kind)).Inc()
		s.log.Errorw("Mail log persisted but dispatch job could not be enqueued",
			"logID", entry.ID,
			"kind", req.Kind,
			"error", err)
		return nil, fmt.Errorf("enqueue dispatch job for %s: %w", entry.ID, err)
	}

	metrics.MailSubmitted.WithLabelValues(string(req.Kind)).Inc()
	s.log.Infow("Mail queued",
		"logID", entry.ID,
		"kind", req.Kind,
		"userID", req.UserID)
	return entry, nil
}

// Get returns a single log by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Log, error) {
	return s.store.FindByID(ctx, id)
}

// RecentForUser returns the user's most recent logs. A non-positive limit
// falls back to DefaultRecentLimit.
func (s *Service) RecentForUser(ctx context.Context, userID uuid.UUID, limit int) ([]Log, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return s.store.FindRecentByUser(ctx, userID, limit)
}

func (s *Service) validateRecipient(recipient string) error {
	if recipient == "" {
		return ErrInvalidRecipient
	}
	if err := s.validate.Var(recipient, "required,email"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return nil
}
