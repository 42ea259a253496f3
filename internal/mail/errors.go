package mail

import "errors"

var (
	// ErrInvalidRecipient is returned when the recipient address is empty or malformed.
	ErrInvalidRecipient = errors.New("invalid recipient email")
	// ErrExpiredInvitation is returned when an invitation expires before it is sent.
	ErrExpiredInvitation = errors.New("invitation has expired")
	// ErrUnsupportedMailKind is returned for a kind without a template.
	ErrUnsupportedMailKind = errors.New("unsupported mail kind")
	// ErrLogNotFound is returned by a LogStore when no log has the requested id.
	ErrLogNotFound = errors.New("mail log not found")
	// ErrAttemptsExhausted is recorded when a job is delivered again after its
	// attempt budget was spent by leases that expired mid-attempt.
	ErrAttemptsExhausted = errors.New("delivery attempts exhausted")
)

// unknownErrorMessage is recorded when a failure carries no description.
const unknownErrorMessage = "Unknown error"

// ErrorMessage normalizes a failure into the human-readable text stored on a log.
func ErrorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return unknownErrorMessage
	}
	return err.Error()
}
