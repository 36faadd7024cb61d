package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sendgate/internal/jobqueue"
	"sendgate/internal/service/dispatch"
)

type EmailSender interface {
	SendEmail(ctx context.Context, req dispatch.Request) (jobqueue.Handle, error)
}

type DispatchHandler struct {
	pipeline EmailSender
	logger   *zap.Logger
}

func NewDispatchHandler(pipeline EmailSender, logger *zap.Logger) *DispatchHandler {
	return &DispatchHandler{pipeline: pipeline, logger: orNop(logger)}
}

// SendEmail handles POST /apps/:app_id/emails. The app owner is the user whose
// credit is checked and charged.
func (h *DispatchHandler) SendEmail(c *gin.Context) {
	var req dispatch.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	req.AppID = c.Param("app_id")
	req.UserID = c.GetString(ContextUserID)
	if app := appFromContext(c); app != nil {
		req.UserID = app.OwnerID
	}

	handle, err := h.pipeline.SendEmail(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"status": "queued",
		"job_id": handle.JobID,
	})
}
