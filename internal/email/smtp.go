package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"github.com/gsarma/mailer/internal/mail"
)

// SMTPConfig holds credentials for an SMTP server.
type SMTPConfig struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// dialer is the part of gomail.Dialer the provider uses.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPProvider sends email through an SMTP relay using gomail.
type SMTPProvider struct {
	dialer dialer
}

func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	d := gomail.NewDialer(cfg.Host, port, cfg.Username, cfg.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &SMTPProvider{dialer: d}
}

// Send delivers msg and returns the Message-ID header it was sent with.
// gomail has no context support, so cancellation abandons the dial rather than aborting it.
func (p *SMTPProvider) Send(ctx context.Context, msg mail.Message) (string, error) {
	messageID := newMessageID(msg.From.Email)

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.From.Email, msg.From.Name)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", msg.HTML)

	done := make(chan error, 1)
	go func() { done <- p.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
		return messageID, nil
	case <-ctx.Done():
		return "", fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

// newMessageID builds an RFC 5322 Message-ID using the sender's domain.
func newMessageID(from string) string {
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = from[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
