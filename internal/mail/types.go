package mail

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the category of a transactional email. It selects the template and
// the subject line.
type Kind string

const (
	KindWelcome    Kind = "WELCOME"
	KindInvitation Kind = "INVITATION"
)

// Kinds returns every supported mail kind.
func Kinds() []Kind {
	return []Kind{KindWelcome, KindInvitation}
}

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	switch k {
	case KindWelcome, KindInvitation:
		return true
	}
	return false
}

// Status is the delivery state of a mail log.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether the worker will never touch a log in this state again.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// Variables is the kind-specific template payload.
type Variables map[string]any

// Clone returns a shallow copy so callers can add keys without mutating the original.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Log is the persisted record of one transactional email.
//
// SentAt is set if and only if Status is SENT, and ProviderMessageID is only
// set alongside SentAt. RetryCount grows by one per failed attempt.
type Log struct {
	ID                uuid.UUID  `json:"id"`
	RecipientEmail    string     `json:"recipient_email"`
	UserID            *uuid.UUID `json:"user_id,omitempty"`
	Kind              Kind       `json:"kind"`
	Subject           string     `json:"subject"`
	Variables         Variables  `json:"variables"`
	Status            Status     `json:"status"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	RetryCount        int        `json:"retry_count"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Job returns the dispatch payload for this log.
func (l *Log) Job() DispatchJob {
	return DispatchJob{
		LogID:          l.ID,
		RecipientEmail: l.RecipientEmail,
		Kind:           l.Kind,
		Subject:        l.Subject,
		Variables:      l.Variables,
	}
}

// NewLog holds the fields supplied when a log is first created.
type NewLog struct {
	RecipientEmail string
	UserID         *uuid.UUID
	Kind           Kind
	Subject        string
	Variables      Variables
}

// DispatchJob is the queue payload. It duplicates the dispatch-relevant fields
// of a Log so a worker can attempt delivery without reading the log first.
type DispatchJob struct {
	LogID          uuid.UUID `json:"log_id"`
	RecipientEmail string    `json:"recipient_email"`
	Kind           Kind      `json:"kind"`
	Subject        string    `json:"subject"`
	Variables      Variables `json:"variables"`
}

// Address is a mailbox with an optional display name.
type Address struct {
	Email string
	Name  string
}

// Message is one fully rendered email handed to a delivery provider.
type Message struct {
	From    Address
	To      string
	Subject string
	HTML    string
}
