package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sendgate/internal/jobqueue"
	"sendgate/internal/model"
)

// ConfigService is satisfied by *sendconfig.Service.
type ConfigService interface {
	Bind(ctx context.Context, appID string, providerID int64) (*model.SendingConfiguration, error)
	Active(ctx context.Context, appID string) (*model.SendingConfiguration, error)
	RequestProvisioning(ctx context.Context, appID string) (jobqueue.Handle, error)
	SMTPCredentials(ctx context.Context, appID string) (model.Credentials, error)
}

type ConfigHandler struct {
	service ConfigService
	logger  *zap.Logger
}

func NewConfigHandler(service ConfigService, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{service: service, logger: orNop(logger)}
}

func redacted(cfg *model.SendingConfiguration) *model.SendingConfiguration {
	cp := *cfg
	cp.Credentials = cfg.Credentials.Redacted()
	return &cp
}

// BindProvider handles PUT /apps/:app_id/provider.
func (h *ConfigHandler) BindProvider(c *gin.Context) {
	var req struct {
		ProviderID int64 `json:"provider_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	cfg, err := h.service.Bind(c.Request.Context(), c.Param("app_id"), req.ProviderID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, redacted(cfg))
}

// RequestProvisioning handles POST /apps/:app_id/provisioning.
func (h *ConfigHandler) RequestProvisioning(c *gin.Context) {
	handle, err := h.service.RequestProvisioning(c.Request.Context(), c.Param("app_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status": string(model.ProvisioningPending),
		"job_id": handle.JobID,
	})
}

// GetConfig handles GET /apps/:app_id/config.
func (h *ConfigHandler) GetConfig(c *gin.Context) {
	cfg, err := h.service.Active(c.Request.Context(), c.Param("app_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, redacted(cfg))
}

// SMTPCredentials handles GET /apps/:app_id/smtp-credentials.
func (h *ConfigHandler) SMTPCredentials(c *gin.Context) {
	creds, err := h.service.SMTPCredentials(c.Request.Context(), c.Param("app_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, creds)
}
