package email

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/mail"
)

// Provider names accepted by NewProvider.
const (
	ProviderSendGrid = "sendgrid"
	ProviderSMTP     = "smtp"
	ProviderGraph    = "graph"
	ProviderLog      = "log"
)

// Config selects and configures the delivery provider.
type Config struct {
	Provider string
	SendGrid SendGridConfig
	SMTP     SMTPConfig
	Graph    GraphConfig
	// HTTPTimeout bounds HTTPS provider calls in addition to the attempt context.
	HTTPTimeout time.Duration
}

// NewProvider builds the configured mail.Provider.
func NewProvider(cfg Config, log *zap.SugaredLogger) (mail.Provider, error) {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	switch cfg.Provider {
	case ProviderSendGrid:
		if cfg.SendGrid.APIKey == "" {
			return nil, fmt.Errorf("sendgrid provider requires an API key")
		}
		return NewSendGridProvider(cfg.SendGrid, &http.Client{Timeout: timeout}), nil
	case ProviderSMTP:
		if cfg.SMTP.Host == "" {
			return nil, fmt.Errorf("smtp provider requires a host")
		}
		return NewSMTPProvider(cfg.SMTP), nil
	case ProviderGraph:
		if cfg.Graph.TenantID == "" || cfg.Graph.ClientID == "" {
			return nil, fmt.Errorf("graph provider requires tenant and client id")
		}
		return NewGraphProvider(cfg.Graph, timeout), nil
	case ProviderLog, "":
		return NewLogProvider(log), nil
	default:
		return nil, fmt.Errorf("unsupported mail provider: %s", cfg.Provider)
	}
}
