package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OutboxReplayer is satisfied by *outbox.ReplayService.
type OutboxReplayer interface {
	ReplayEvent(ctx context.Context, eventID int64) error
	ReplayFailedEvents(ctx context.Context, limit int) (int, error)
}

type AdminHandler struct {
	replayer OutboxReplayer
	logger   *zap.Logger
}

// NewAdminHandler builds the admin handler; replayer is nil unless the
// outbox is in use.
func NewAdminHandler(replayer OutboxReplayer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{replayer: replayer, logger: orNop(logger)}
}

// ReplayOutbox 重放 Outbox 事件
// POST /admin/outbox/replay?id=xxx 重放单个事件，不带 id 时重放失败事件（limit 默认 100）
func (h *AdminHandler) ReplayOutbox(c *gin.Context) {
	if h.replayer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "outbox is not enabled"})
		return
	}

	if idStr := c.Query("id"); idStr != "" {
		eventID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			badRequest(c, "invalid id parameter")
			return
		}
		if err := h.replayer.ReplayEvent(c.Request.Context(), eventID); err != nil {
			h.logger.Error("Failed to replay event",
				zap.Int64("event_id", eventID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay event"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":   "replayed",
			"event_id": eventID,
		})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	successCount, err := h.replayer.ReplayFailedEvents(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to replay failed events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to replay failed events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "completed",
		"success_count": successCount,
		"limit":         limit,
	})
}
