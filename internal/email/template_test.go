package email

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/mail"
)

func newTestRenderer() *Renderer {
	return NewRenderer("https://app.example.com/", zap.NewNop().Sugar())
}

func TestTemplateFile_CoversAllKinds(t *testing.T) {
	for _, kind := range mail.Kinds() {
		_, err := templateFile(kind)
		assert.NoError(t, err, "kind %s has no template", kind)
	}
}

func TestRender_Welcome(t *testing.T) {
	out, err := newTestRenderer().Render(mail.KindWelcome, mail.Variables{"name": "Alice", "appName": "Acme"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"), "render must produce a full document")
	assert.Contains(t, out, "</html>")
	assert.Contains(t, out, "Welcome, Alice!")
	assert.Contains(t, out, "Acme")
}

func TestRender_InjectsBaseURL(t *testing.T) {
	out, err := newTestRenderer().Render(mail.KindWelcome, mail.Variables{})
	require.NoError(t, err)
	assert.Contains(t, out, `href="https://app.example.com"`)
}

func TestRender_CallerCannotOverrideBaseURL(t *testing.T) {
	out, err := newTestRenderer().Render(mail.KindWelcome, mail.Variables{"baseUrl": "https://evil.example.net"})
	require.NoError(t, err)
	assert.NotContains(t, out, "evil.example.net")
}

func TestRender_EscapesScriptInjection(t *testing.T) {
	out, err := newTestRenderer().Render(mail.KindWelcome, mail.Variables{"name": "<script>alert(1)</script>"})
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
}

func TestRender_Invitation(t *testing.T) {
	expires := time.Date(2030, time.March, 4, 10, 30, 0, 0, time.UTC)
	out, err := newTestRenderer().Render(mail.KindInvitation, mail.Variables{
		"inviterName":      "Carol",
		"organizationName": "Rocket Team",
		"inviteUrl":        "https://app.example.com/invite/abc",
		"expiresAt":        expires.Format(time.RFC3339),
	})
	require.NoError(t, err)

	assert.Contains(t, out, "Carol")
	assert.Contains(t, out, "Rocket Team")
	assert.Contains(t, out, "https://app.example.com/invite/abc")
	assert.Contains(t, out, "March 4, 2030")
}

func TestRender_InvitationRejectsJavascriptURL(t *testing.T) {
	out, err := newTestRenderer().Render(mail.KindInvitation, mail.Variables{
		"inviteUrl": "javascript:alert(1)",
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "javascript:alert(1)")
}

func TestRender_UnsupportedKind(t *testing.T) {
	_, err := newTestRenderer().Render(mail.Kind("NEWSLETTER"), nil)
	assert.ErrorIs(t, err, mail.ErrUnsupportedMailKind)
}

func TestRender_DoesNotMutateVariables(t *testing.T) {
	vars := mail.Variables{"name": "Alice"}
	_, err := newTestRenderer().Render(mail.KindWelcome, vars)
	require.NoError(t, err)
	_, injected := vars["baseUrl"]
	assert.False(t, injected)
}

func TestRender_ConcurrentUse(t *testing.T) {
	r := newTestRenderer()
	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kind := mail.KindWelcome
			if i%2 == 0 {
				kind = mail.KindInvitation
			}
			if _, err := r.Render(kind, mail.Variables{"name": "n"}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestCheckMarkup(t *testing.T) {
	assert.Empty(t, checkMarkup("<html><body><p>ok<br></p></body></html>"))
	assert.Equal(t, []string{"unexpected </span>", "unclosed <div>"}, checkMarkup("<div></span>"))
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2031, time.January, 2, 15, 4, 0, 0, time.UTC)
	assert.Equal(t, "January 2, 2031 at 15:04 UTC", formatDate(ts))
	assert.Equal(t, "January 2, 2031 at 15:04 UTC", formatDate(ts.Format(time.RFC3339)))
	assert.Equal(t, "next week", formatDate("next week"))
	assert.Equal(t, "", formatDate(nil))
}
