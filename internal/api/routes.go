package api

import (
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gsarma/mailer/internal/metrics"
)

// NewRouter builds the gin engine with zap access logging and panic recovery.
func NewRouter(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)
	return r
}

func RegisterRoutes(r *gin.Engine, h *Handler, apiKeys []string) {
	r.GET("/healthz", h.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	authed := r.Group("/", APIKeyAuth(apiKeys))
	{
		authed.POST("/mail/welcome", h.SendWelcome)
		authed.POST("/mail/invitation", h.SendInvitation)
		authed.GET("/mail/logs/:id", h.GetLog)
		authed.GET("/users/:userId/mail-logs", h.ListUserLogs)
	}
}
