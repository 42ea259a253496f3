package mailer

import "time"

// Mail kinds.
const (
	KindWelcome    = "WELCOME"
	KindInvitation = "INVITATION"
)

// Delivery statuses.
const (
	StatusPending = "PENDING"
	StatusSent    = "SENT"
	StatusFailed  = "FAILED"
)

// WelcomeRequest is the body of POST /mail/welcome.
type WelcomeRequest struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// InvitationRequest is the body of POST /mail/invitation.
type InvitationRequest struct {
	Email            string    `json:"email"`
	InviterName      string    `json:"inviter_name,omitempty"`
	OrganizationName string    `json:"organization_name,omitempty"`
	InviteURL        string    `json:"invite_url,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	UserID           string    `json:"user_id,omitempty"`
}

// MailLog is the delivery record of one mail.
type MailLog struct {
	ID                string         `json:"id"`
	RecipientEmail    string         `json:"recipient_email"`
	UserID            string         `json:"user_id,omitempty"`
	Kind              string         `json:"kind"`
	Subject           string         `json:"subject"`
	Variables         map[string]any `json:"variables"`
	Status            string         `json:"status"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	SentAt            *time.Time     `json:"sent_at,omitempty"`
	RetryCount        int            `json:"retry_count"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Done reports whether delivery has finished, successfully or not.
func (l *MailLog) Done() bool {
	return l.Status == StatusSent || l.Status == StatusFailed
}

type listLogsResponse struct {
	Logs []MailLog `json:"logs"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
