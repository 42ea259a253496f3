package email

import (
	"context"

	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/mail"
)

// LogProvider logs messages instead of sending them. Used for local runs.
type LogProvider struct {
	log *zap.SugaredLogger
}

func NewLogProvider(log *zap.SugaredLogger) *LogProvider {
	return &LogProvider{log: log.Named("log-provider")}
}

func (p *LogProvider) Send(_ context.Context, msg mail.Message) (string, error) {
	id := newMessageID(msg.From.Email)
	p.log.Infow("Mail delivery skipped (log provider)",
		"messageID", id,
		"to", msg.To,
		"subject", msg.Subject,
		"bytes", len(msg.HTML))
	return id, nil
}
