// Package handler holds the gin handlers of the API tier.
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
	"sendgate/pkg/logger"
)

// Context keys set by the httpserver middleware.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
	ContextApp    = "app"
)

// respondError writes {"error": msg} with the status of err's kind. Unclassified
// errors are logged and their detail is not exposed.
func respondError(c *gin.Context, log *zap.Logger, err error) {
	status := apperror.HTTPStatus(err)
	msg := apperror.Message(err)
	if status == http.StatusInternalServerError {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	c.JSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// appFromContext returns the app loaded by the ownership middleware.
func appFromContext(c *gin.Context) *model.App {
	if v, ok := c.Get(ContextApp); ok {
		if app, ok := v.(*model.App); ok {
			return app
		}
	}
	return nil
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
