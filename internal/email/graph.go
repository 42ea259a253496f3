package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/gsarma/mailer/internal/mail"
)

const (
	graphBaseURL  = "https://graph.microsoft.com/v1.0"
	graphScope    = "https://graph.microsoft.com/.default"
	graphTokenFmt = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
)

// GraphConfig holds app-only credentials for Microsoft Graph sendMail.
type GraphConfig struct {
	TenantID     string `json:"tenant_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	// Mailbox is the user principal that sends; defaults to the sender address.
	Mailbox string `json:"mailbox,omitempty"`
	// BaseURL and TokenURL override the public endpoints (tests, national clouds).
	BaseURL  string `json:"base_url,omitempty"`
	TokenURL string `json:"token_url,omitempty"`
}

// GraphProvider sends email as a Microsoft 365 mailbox using the client
// credentials grant.
type GraphProvider struct {
	cfg    GraphConfig
	client *http.Client
}

func NewGraphProvider(cfg GraphConfig, timeout time.Duration) *GraphProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = graphBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = fmt.Sprintf(graphTokenFmt, url.PathEscape(cfg.TenantID))
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{graphScope},
	}
	base := &http.Client{Timeout: timeout}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(tokenCtx)
	client.Timeout = timeout
	return &GraphProvider{cfg: cfg, client: client}
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
		Name    string `json:"name,omitempty"`
	} `json:"emailAddress"`
}

type graphMessage struct {
	Subject string `json:"subject"`
	Body    struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From              *graphRecipient  `json:"from,omitempty"`
	ToRecipients      []graphRecipient `json:"toRecipients"`
	InternetMessageID string           `json:"internetMessageId"`
}

// Send calls /users/{mailbox}/sendMail. Graph answers 202 without a body, so
// the returned id is the internetMessageId set on the outgoing message.
func (p *GraphProvider) Send(ctx context.Context, msg mail.Message) (string, error) {
	mailbox := p.cfg.Mailbox
	if mailbox == "" {
		mailbox = msg.From.Email
	}
	messageID := newMessageID(msg.From.Email)

	var gm graphMessage
	gm.Subject = msg.Subject
	gm.Body.ContentType = "HTML"
	gm.Body.Content = msg.HTML
	gm.InternetMessageID = messageID

	var to graphRecipient
	to.EmailAddress.Address = msg.To
	gm.ToRecipients = []graphRecipient{to}

	if msg.From.Email != "" {
		from := &graphRecipient{}
		from.EmailAddress.Address = msg.From.Email
		from.EmailAddress.Name = msg.From.Name
		gm.From = from
	}

	body, err := json.Marshal(map[string]any{
		"message":         gm,
		"saveToSentItems": false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal graph payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/users/%s/sendMail", p.cfg.BaseURL, url.PathEscape(mailbox))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return "", fmt.Errorf("graph returned status %d (%s): %s", resp.StatusCode, errBody.Error.Code, errBody.Error.Message)
	}
	return messageID, nil
}
