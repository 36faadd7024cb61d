package handler

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sendgate/internal/apperror"
	"sendgate/internal/service/webhook"
	"sendgate/pkg/logger"
)

const maxWebhookBody = 1 << 20

// Reconciler is satisfied by *webhook.Reconciler.
type Reconciler interface {
	Reconcile(ctx context.Context, ev webhook.Event) (webhook.Result, error)
}

type WebhookHandler struct {
	reconciler       Reconciler
	mailerSendSecret string
	logger           *zap.Logger
	now              func() time.Time
}

func NewWebhookHandler(reconciler Reconciler, mailerSendSecret string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler:       reconciler,
		mailerSendSecret: mailerSendSecret,
		logger:           orNop(logger),
		now:              time.Now,
	}
}

// MailerSend handles /webhooks/mailersend. The body must carry a valid HMAC
// in the Signature header.
func (h *WebhookHandler) MailerSend(c *gin.Context) {
	body, ok := h.readPost(c)
	if !ok {
		return
	}
	if !webhook.VerifySignature(h.mailerSendSecret, body, c.GetHeader(webhook.SignatureHeader)) {
		logger.WithTrace(c.Request.Context(), h.logger).Warn("Rejected webhook with invalid signature",
			zap.String("provider", "MAILERSEND"),
		)
		c.JSON(http.StatusForbidden, gin.H{"error": apperror.ErrInvalidSignature.Message})
		return
	}
	h.handle(c, body, webhook.ParseMailerSend)
}

// SMTP2Go handles /webhooks/smtp2go. SMTP2GO callbacks are not authenticated.
func (h *WebhookHandler) SMTP2Go(c *gin.Context) {
	body, ok := h.readPost(c)
	if !ok {
		return
	}
	h.handle(c, body, webhook.ParseSMTP2Go)
}

func (h *WebhookHandler) readPost(c *gin.Context) ([]byte, bool) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Invalid method"})
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read body"})
		return nil, false
	}
	return body, true
}

func (h *WebhookHandler) handle(c *gin.Context, body []byte, parse func([]byte, time.Time) (webhook.Event, error)) {
	ev, err := parse(body, h.now())
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Warn("Malformed webhook payload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	res, err := h.reconciler.Reconcile(c.Request.Context(), ev)
	if err != nil {
		c.JSON(webhookStatus(err), gin.H{"error": apperror.Message(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(res)})
}

// webhookStatus keeps vendor-facing codes to 400, 403 and 500.
func webhookStatus(err error) int {
	kind, ok := apperror.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case apperror.KindValidation, apperror.KindNotFound:
		return http.StatusBadRequest
	case apperror.KindSignature:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
