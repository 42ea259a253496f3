package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/gsarma/mailer/internal/mail"
)

var testMessage = mail.Message{
	From:    mail.Address{Email: "noreply@acme.test", Name: "Acme"},
	To:      "alice@example.com",
	Subject: "Welcome",
	HTML:    "<!DOCTYPE html><html><body>hi</body></html>",
}

func TestSendGridProvider_ReturnsMessageID(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sg-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("X-Message-Id", "sg-msg-1")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewSendGridProvider(SendGridConfig{APIKey: "sg-key", Endpoint: srv.URL}, srv.Client())
	id, err := p.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.Equal(t, "sg-msg-1", id)

	assert.Equal(t, "Welcome", got["subject"])
	from := got["from"].(map[string]any)
	assert.Equal(t, "noreply@acme.test", from["email"])
	assert.Equal(t, "Acme", from["name"])
	content := got["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "text/html", content["type"])
}

func TestSendGridProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"errors":[{"message":"Does not contain a valid address."}]}`))
	}))
	defer srv.Close()

	p := NewSendGridProvider(SendGridConfig{APIKey: "k", Endpoint: srv.URL}, srv.Client())
	_, err := p.Send(context.Background(), testMessage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Contains(t, err.Error(), "valid address")
}

func TestSendGridProvider_HonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := NewSendGridProvider(SendGridConfig{APIKey: "k", Endpoint: srv.URL}, srv.Client())
	_, err := p.Send(ctx, testMessage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGraphProvider_SendsWithClientCredentials(t *testing.T) {
	var tokenCalls int
	var sendPath, auth string
	var body struct {
		Message graphMessage `json:"message"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/token"):
			tokenCalls++
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"graph-token","token_type":"Bearer","expires_in":3600}`))
		default:
			sendPath = r.URL.Path
			auth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusAccepted)
		}
	}))
	defer srv.Close()

	p := NewGraphProvider(GraphConfig{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/token",
	}, 5*time.Second)

	id, err := p.Send(context.Background(), testMessage)
	require.NoError(t, err)

	assert.Equal(t, 1, tokenCalls)
	assert.Equal(t, "Bearer graph-token", auth)
	assert.Equal(t, "/users/noreply@acme.test/sendMail", sendPath)
	assert.Equal(t, id, body.Message.InternetMessageID)
	assert.True(t, strings.HasSuffix(id, "@acme.test>"))
	require.Len(t, body.Message.ToRecipients, 1)
	assert.Equal(t, "alice@example.com", body.Message.ToRecipients[0].EmailAddress.Address)
	assert.Equal(t, "HTML", body.Message.Body.ContentType)
}

type fakeDialer struct {
	err  error
	sent []*gomail.Message
	wait chan struct{}
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.wait != nil {
		<-d.wait
	}
	d.sent = append(d.sent, m...)
	return d.err
}

func TestSMTPProvider_SetsMessageID(t *testing.T) {
	d := &fakeDialer{}
	p := &SMTPProvider{dialer: d}

	id, err := p.Send(context.Background(), testMessage)
	require.NoError(t, err)
	require.Len(t, d.sent, 1)
	assert.Equal(t, []string{id}, d.sent[0].GetHeader("Message-ID"))
	assert.Equal(t, []string{"alice@example.com"}, d.sent[0].GetHeader("To"))
	assert.Equal(t, []string{"Welcome"}, d.sent[0].GetHeader("Subject"))
}

func TestSMTPProvider_WrapsDialError(t *testing.T) {
	p := &SMTPProvider{dialer: &fakeDialer{err: errors.New("535 auth failed")}}
	_, err := p.Send(context.Background(), testMessage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "535 auth failed")
}

func TestSMTPProvider_StopsWaitingOnCancel(t *testing.T) {
	d := &fakeDialer{wait: make(chan struct{})}
	defer close(d.wait)
	p := &SMTPProvider{dialer: d}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Send(ctx, testMessage)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewProvider(t *testing.T) {
	log := zap.NewNop().Sugar()

	p, err := NewProvider(Config{Provider: ProviderLog}, log)
	require.NoError(t, err)
	assert.IsType(t, &LogProvider{}, p)

	_, err = NewProvider(Config{Provider: ProviderSendGrid}, log)
	assert.Error(t, err, "sendgrid without key")

	p, err = NewProvider(Config{Provider: ProviderSMTP, SMTP: SMTPConfig{Host: "smtp.acme.test"}}, log)
	require.NoError(t, err)
	assert.IsType(t, &SMTPProvider{}, p)

	_, err = NewProvider(Config{Provider: "carrier-pigeon"}, log)
	assert.Error(t, err)
}

func TestNewMessageID(t *testing.T) {
	assert.True(t, strings.HasSuffix(newMessageID("a@acme.test"), "@acme.test>"))
	assert.True(t, strings.HasSuffix(newMessageID(""), "@localhost>"))
}
