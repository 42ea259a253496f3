package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gsarma/mailer/internal/mail"
)

const sendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"

// SendGridConfig holds credentials for the SendGrid API.
type SendGridConfig struct {
	APIKey string `json:"api_key"`
	// Endpoint overrides the Mail Send URL (tests, EU data residency).
	Endpoint string `json:"endpoint,omitempty"`
}

// SendGridProvider sends email via the SendGrid v3 Mail Send API.
type SendGridProvider struct {
	cfg    SendGridConfig
	client *http.Client
}

func NewSendGridProvider(cfg SendGridConfig, client *http.Client) *SendGridProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = sendGridEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &SendGridProvider{cfg: cfg, client: client}
}

// Send posts msg and returns the X-Message-Id SendGrid assigns to it.
func (p *SendGridProvider) Send(ctx context.Context, msg mail.Message) (string, error) {
	from := map[string]string{"email": msg.From.Email}
	if msg.From.Name != "" {
		from["name"] = msg.From.Name
	}

	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": msg.To}}},
		},
		"from":    from,
		"subject": msg.Subject,
		"content": []map[string]string{
			{"type": "text/html", "value": msg.HTML},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal sendgrid payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build sendgrid request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("sendgrid returned status %d: %s", resp.StatusCode, sendGridErrorDetail(resp.Body))
	}

	messageID := resp.Header.Get("X-Message-Id")
	if messageID == "" {
		// Accepted without an id; keep a local reference so the log still records one.
		messageID = "sendgrid-" + uuid.NewString()
	}
	return messageID, nil
}

func sendGridErrorDetail(r io.Reader) string {
	var out struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&out); err != nil || len(out.Errors) == 0 {
		return "no error detail"
	}
	msgs := make([]string, 0, len(out.Errors))
	for _, e := range out.Errors {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}
