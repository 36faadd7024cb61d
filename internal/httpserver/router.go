package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sendgate/internal/handler"
	"sendgate/pkg/rbac"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Connected is satisfied by *mq.Publisher.
type Connected interface {
	IsConnected() bool
}

type Handlers struct {
	Dispatch *handler.DispatchHandler
	Config   *handler.ConfigHandler
	Account  *handler.AccountHandler
	Admin    *handler.AdminHandler
	Webhook  *handler.WebhookHandler
}

// Deps are what the router needs besides the handlers. DB and MQ are nil in
// memory mode and their readiness checks are skipped.
type Deps struct {
	Apps      AppLookup
	JWTSecret string
	DB        Pinger
	MQ        Connected
	Logger    *zap.Logger
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, deps Deps) *Router {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), MetricsMiddleware(), AccessLogMiddleware(log))

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", readiness(deps.DB, deps.MQ))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks：MailerSend 校验签名，SMTP2GO 无认证
	r.Any("/webhooks/mailersend", h.Webhook.MailerSend)
	r.Any("/webhooks/smtp2go", h.Webhook.SMTP2Go)

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(deps.JWTSecret))

	apps := auth.Group("/apps/:app_id")
	apps.Use(RequireAppOwner(deps.Apps, log))
	{
		apps.POST("/emails", RequirePermission(rbac.PermissionSendEmail), h.Dispatch.SendEmail)
		apps.PUT("/provider", RequirePermission(rbac.PermissionBindProvider), h.Config.BindProvider)
		apps.POST("/provisioning", RequirePermission(rbac.PermissionRequestProvision), h.Config.RequestProvisioning)
		apps.GET("/config", RequirePermission(rbac.PermissionReadConfig), h.Config.GetConfig)
		apps.GET("/smtp-credentials", RequirePermission(rbac.PermissionReadSMTPSecrets), h.Config.SMTPCredentials)
		apps.GET("/usage", RequirePermission(rbac.PermissionReadUsage), h.Account.Usage)
		apps.GET("/logs", RequirePermission(rbac.PermissionReadUsage), h.Account.Logs)
	}

	users := auth.Group("/users/:user_id")
	users.Use(RequirePermission(rbac.PermissionChangePlan))
	{
		users.POST("/upgrade", h.Account.Upgrade)
		users.POST("/downgrade", h.Account.Downgrade)
	}

	auth.POST("/admin/outbox/replay", RequirePermission(rbac.PermissionReplayOutbox), h.Admin.ReplayOutbox)

	return &Router{Engine: r}
}

func readiness(db Pinger, mq Connected) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
				return
			}
		}
		if mq != nil && !mq.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
