package mailer

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// MailService submits transactional mail and reads delivery logs.
type MailService struct {
	c *Client
}

// SendWelcome queues a welcome mail and returns its PENDING log.
func (s *MailService) SendWelcome(ctx context.Context, req WelcomeRequest) (*MailLog, error) {
	return doRequest[MailLog](ctx, s.c, http.MethodPost, "/mail/welcome", nil, req, http.StatusAccepted)
}

// SendInvitation queues an invitation mail and returns its PENDING log.
// ExpiresAt must be in the future.
func (s *MailService) SendInvitation(ctx context.Context, req InvitationRequest) (*MailLog, error) {
	return doRequest[MailLog](ctx, s.c, http.MethodPost, "/mail/invitation", nil, req, http.StatusAccepted)
}

// GetLog fetches a mail log by id.
func (s *MailService) GetLog(ctx context.Context, id string) (*MailLog, error) {
	return doRequest[MailLog](ctx, s.c, http.MethodGet, "/mail/logs/"+url.PathEscape(id), nil, nil, http.StatusOK)
}

// ListUserLogs returns the user's most recent logs, newest first. A limit of
// zero uses the server default.
func (s *MailService) ListUserLogs(ctx context.Context, userID string, limit int) ([]MailLog, error) {
	var query url.Values
	if limit > 0 {
		query = url.Values{"limit": {strconv.Itoa(limit)}}
	}
	path := "/users/" + url.PathEscape(userID) + "/mail-logs"
	result, err := doRequest[listLogsResponse](ctx, s.c, http.MethodGet, path, query, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return result.Logs, nil
}
