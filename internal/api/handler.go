package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/mail"
)

// MaxRecentLimit caps the limit query parameter of the user log listing.
const MaxRecentLimit = 100

// MailService is the part of mail.Service the handlers call.
type MailService interface {
	SendWelcome(ctx context.Context, m mail.WelcomeMail) (*mail.Log, error)
	SendInvitation(ctx context.Context, m mail.InvitationMail) (*mail.Log, error)
	Get(ctx context.Context, id uuid.UUID) (*mail.Log, error)
	RecentForUser(ctx context.Context, userID uuid.UUID, limit int) ([]mail.Log, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	mail   MailService
	health map[string]Pinger
	log    *zap.SugaredLogger
}

func NewHandler(svc MailService, health map[string]Pinger, log *zap.SugaredLogger) *Handler {
	return &Handler{mail: svc, health: health, log: log.Named("api")}
}

type welcomeRequest struct {
	Email  string     `json:"email" binding:"required"`
	Name   string     `json:"name"`
	UserID *uuid.UUID `json:"user_id"`
}

// SendWelcome accepts a welcome mail and returns its PENDING log.
func (h *Handler) SendWelcome(c *gin.Context) {
	var body welcomeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	l, err := h.mail.SendWelcome(c.Request.Context(), mail.WelcomeMail{
		Email:  body.Email,
		Name:   body.Name,
		UserID: body.UserID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, l)
}

type invitationRequest struct {
	Email            string     `json:"email" binding:"required"`
	InviterName      string     `json:"inviter_name"`
	OrganizationName string     `json:"organization_name"`
	InviteURL        string     `json:"invite_url" binding:"omitempty,url"`
	ExpiresAt        *time.Time `json:"expires_at" binding:"required"`
	UserID           *uuid.UUID `json:"user_id"`
}

// SendInvitation accepts an invitation mail and returns its PENDING log.
func (h *Handler) SendInvitation(c *gin.Context) {
	var body invitationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	l, err := h.mail.SendInvitation(c.Request.Context(), mail.InvitationMail{
		Email:            body.Email,
		InviterName:      body.InviterName,
		OrganizationName: body.OrganizationName,
		InviteURL:        body.InviteURL,
		ExpiresAt:        *body.ExpiresAt,
		UserID:           body.UserID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, l)
}

// GetLog returns a mail log by id.
func (h *Handler) GetLog(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log id"})
		return
	}

	l, err := h.mail.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, l)
}

// ListUserLogs returns the user's most recent mail logs, newest first.
func (h *Handler) ListUserLogs(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	limit := mail.DefaultRecentLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxRecentLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
	}

	logs, err := h.mail.RecentForUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if logs == nil {
		logs = []mail.Log{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// Health pings every registered dependency.
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	status := http.StatusOK
	for name, p := range h.health {
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
}

// writeError maps domain errors to HTTP status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, mail.ErrInvalidRecipient),
		errors.Is(err, mail.ErrExpiredInvitation),
		errors.Is(err, mail.ErrUnsupportedMailKind):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, mail.ErrLogNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "mail log not found"})
	default:
		h.log.Errorw("Request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
