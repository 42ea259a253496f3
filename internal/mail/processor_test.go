package mail_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/mail"
	"github.com/gsarma/mailer/internal/mail/mailtest"
)

type processorFixture struct {
	store     *mailtest.Store
	provider  *mailtest.Provider
	processor *mail.Processor
	job       mail.DispatchJob
}

func newProcessorFixture(t *testing.T, provider *mailtest.Provider, renderer mail.Renderer) *processorFixture {
	t.Helper()
	store := mailtest.NewStore()
	entry, err := store.Create(context.Background(), mail.NewLog{
		RecipientEmail: "alice@example.com",
		Kind:           mail.KindWelcome,
		Subject:        "Welcome",
		Variables:      mail.Variables{"name": "Alice"},
	})
	require.NoError(t, err)

	p := mail.NewProcessor(store, renderer, provider, mail.ProcessorConfig{
		Sender:      mail.Address{Email: "noreply@example.com", Name: "Acme"},
		MaxAttempts: 3,
	}, zap.NewNop().Sugar())

	return &processorFixture{store: store, provider: provider, processor: p, job: entry.Job()}
}

func (f *processorFixture) current(t *testing.T) *mail.Log {
	t.Helper()
	l, err := f.store.FindByID(context.Background(), f.job.LogID)
	require.NoError(t, err)
	return l
}

func TestProcessor_Success_MarksSent(t *testing.T) {
	f := newProcessorFixture(t, &mailtest.Provider{MessageID: "sg-123"}, mailtest.Renderer{})

	out := f.processor.Process(context.Background(), f.job, 0)
	assert.Equal(t, mail.Succeeded, out.Status)
	assert.NoError(t, out.Err)

	l := f.current(t)
	assert.Equal(t, mail.StatusSent, l.Status)
	require.NotNil(t, l.SentAt)
	require.NotNil(t, l.ProviderMessageID)
	assert.Equal(t, "sg-123", *l.ProviderMessageID)
	assert.Equal(t, 0, l.RetryCount)

	require.Len(t, f.provider.Sent, 1)
	msg := f.provider.Sent[0]
	assert.Equal(t, "alice@example.com", msg.To)
	assert.Equal(t, "Welcome", msg.Subject)
	assert.Equal(t, "noreply@example.com", msg.From.Email)
}

func TestProcessor_FailTwiceThenSucceed(t *testing.T) {
	f := newProcessorFixture(t, &mailtest.Provider{FailFirst: 2, MessageID: "ok"}, mailtest.Renderer{})

	for attempt := 0; attempt < 2; attempt++ {
		out := f.processor.Process(context.Background(), f.job, attempt)
		assert.Equal(t, mail.RetryableFailure, out.Status)
		assert.Error(t, out.Err)
		assert.NotEqual(t, mail.StatusFailed, f.current(t).Status, "transient failures never show as FAILED")
	}

	out := f.processor.Process(context.Background(), f.job, 2)
	assert.Equal(t, mail.Succeeded, out.Status)

	l := f.current(t)
	assert.Equal(t, mail.StatusSent, l.Status)
	assert.Equal(t, 2, l.RetryCount)
	require.NotNil(t, l.SentAt)
}

func TestProcessor_ExhaustsAfterThirdFailure(t *testing.T) {
	f := newProcessorFixture(t, &mailtest.Provider{FailFirst: 100, Err: errors.New("smtp 421")}, mailtest.Renderer{})

	var outcomes []mail.Outcome
	for attempt := 0; attempt < 3; attempt++ {
		outcomes = append(outcomes, f.processor.Process(context.Background(), f.job, attempt))
	}

	assert.Equal(t, mail.RetryableFailure, outcomes[0].Status)
	assert.Equal(t, mail.RetryableFailure, outcomes[1].Status)
	assert.Equal(t, mail.TerminalFailure, outcomes[2].Status)
	for _, o := range outcomes {
		assert.EqualError(t, o.Err, "smtp 421", "every failed attempt reports its error")
	}

	l := f.current(t)
	assert.Equal(t, mail.StatusFailed, l.Status)
	assert.Equal(t, 3, l.RetryCount)
	require.NotNil(t, l.ErrorMessage)
	assert.Equal(t, "smtp 421", *l.ErrorMessage)
	assert.Nil(t, l.SentAt)
	assert.Nil(t, l.ProviderMessageID)
}

func TestProcessor_RenderFailureCountsAsAttempt(t *testing.T) {
	provider := &mailtest.Provider{}
	f := newProcessorFixture(t, provider, mailtest.Renderer{Err: errors.New("bad template")})

	out := f.processor.Process(context.Background(), f.job, 0)
	assert.Equal(t, mail.RetryableFailure, out.Status)
	assert.Equal(t, 0, provider.CallCount(), "provider is never reached")

	l := f.current(t)
	assert.Equal(t, 1, l.RetryCount)
	require.NotNil(t, l.ErrorMessage)
	assert.Contains(t, *l.ErrorMessage, "bad template")
}

func TestProcessor_UnsupportedKindNeverReachesProvider(t *testing.T) {
	provider := &mailtest.Provider{}
	f := newProcessorFixture(t, provider, mailtest.Renderer{})
	f.job.Kind = mail.Kind("NEWSLETTER")

	out := f.processor.Process(context.Background(), f.job, 0)
	assert.True(t, out.Failed())
	assert.ErrorIs(t, out.Err, mail.ErrUnsupportedMailKind)
	assert.Equal(t, 0, provider.CallCount())
}

func TestProcessor_EmptyErrorRecordedAsPlaceholder(t *testing.T) {
	f := newProcessorFixture(t, &mailtest.Provider{FailFirst: 1, Err: errors.New("")}, mailtest.Renderer{})

	f.processor.Process(context.Background(), f.job, 0)

	l := f.current(t)
	require.NotNil(t, l.ErrorMessage)
	assert.Equal(t, "Unknown error", *l.ErrorMessage)
}

func TestProcessor_SkipsTerminalLogOnRedelivery(t *testing.T) {
	provider := &mailtest.Provider{}
	f := newProcessorFixture(t, provider, mailtest.Renderer{})

	require.Equal(t, mail.Succeeded, f.processor.Process(context.Background(), f.job, 0).Status)
	require.Equal(t, mail.Succeeded, f.processor.Process(context.Background(), f.job, 0).Status)
	assert.Equal(t, 1, provider.CallCount(), "at-least-once redelivery must not send twice")
}

func TestProcessor_MissingLogIsTolerated(t *testing.T) {
	provider := &mailtest.Provider{FailFirst: 1}
	f := newProcessorFixture(t, provider, mailtest.Renderer{})
	f.job.LogID = uuid.New()

	out := f.processor.Process(context.Background(), f.job, 0)
	assert.Equal(t, mail.RetryableFailure, out.Status)
}

type slowProvider struct{}

func (slowProvider) Send(ctx context.Context, _ mail.Message) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestProcessor_AttemptTimeoutIsAnOrdinaryFailure(t *testing.T) {
	store := mailtest.NewStore()
	entry, err := store.Create(context.Background(), mail.NewLog{RecipientEmail: "a@example.com", Kind: mail.KindWelcome})
	require.NoError(t, err)

	p := mail.NewProcessor(store, mailtest.Renderer{}, slowProvider{}, mail.ProcessorConfig{
		MaxAttempts:    3,
		AttemptTimeout: 20 * time.Millisecond,
	}, zap.NewNop().Sugar())

	out := p.Process(context.Background(), entry.Job(), 0)
	assert.Equal(t, mail.RetryableFailure, out.Status)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)

	l, err := store.FindByID(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, l.RetryCount)
	require.NotNil(t, l.ErrorMessage)
	assert.Contains(t, *l.ErrorMessage, "timed out")
}

func TestProcessor_SentWriteIsRetried(t *testing.T) {
	f := newProcessorFixture(t, &mailtest.Provider{MessageID: "sg-9"}, mailtest.Renderer{})
	f.store.FailSentUpdates = 2

	out := f.processor.Process(context.Background(), f.job, 0)
	assert.Equal(t, mail.Succeeded, out.Status)
	assert.Equal(t, mail.StatusSent, f.current(t).Status)
	assert.Equal(t, 1, f.provider.CallCount())
}

func TestProcessor_SentWriteFailureIsReportedAsDeliveredUnrecorded(t *testing.T) {
	f := newProcessorFixture(t, &mailtest.Provider{MessageID: "sg-9"}, mailtest.Renderer{})
	f.store.FailSentUpdates = 3

	out := f.processor.Process(context.Background(), f.job, 0)
	assert.Equal(t, mail.DeliveredUnrecorded, out.Status)
	assert.Equal(t, "sg-9", out.MessageID)
	assert.ErrorContains(t, out.Err, "connection reset by peer")
	assert.False(t, out.Failed(), "the message was delivered")

	l := f.current(t)
	assert.Equal(t, mail.StatusPending, l.Status)
	assert.Equal(t, 0, l.RetryCount)
	assert.Equal(t, 1, f.provider.CallCount())
}

func TestProcessor_AttemptBeyondBudgetFailsWithoutSending(t *testing.T) {
	f := newProcessorFixture(t, &mailtest.Provider{MessageID: "ok"}, mailtest.Renderer{})

	// Three earlier leases expired without recording anything.
	out := f.processor.Process(context.Background(), f.job, 3)
	assert.Equal(t, mail.TerminalFailure, out.Status)
	assert.ErrorIs(t, out.Err, mail.ErrAttemptsExhausted)
	assert.Zero(t, f.provider.CallCount())

	l := f.current(t)
	assert.Equal(t, mail.StatusFailed, l.Status)
	require.NotNil(t, l.ErrorMessage)
	assert.Equal(t, "delivery attempts exhausted", *l.ErrorMessage)
}
