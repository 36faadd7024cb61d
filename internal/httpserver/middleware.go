package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sendgate/internal/apperror"
	"sendgate/internal/handler"
	"sendgate/internal/model"
	"sendgate/internal/util"
	"sendgate/pkg/logger"
	"sendgate/pkg/metrics"
	"sendgate/pkg/rbac"
	"sendgate/pkg/trace"
)

// TraceMiddleware 读取或生成 X-Trace-ID，写回响应头并放入 request context
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := trace.WithContext(c.Request.Context(), c.GetHeader(trace.HeaderName))
		ctx, traceID := trace.Ensure(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(trace.HeaderName, traceID)
		c.Next()
	}
}

// MetricsMiddleware 记录 HTTP 请求延迟，path 使用路由模板
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// AccessLogMiddleware logs one line per request.
func AccessLogMiddleware(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithTrace(c.Request.Context(), log).Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// store claims in context so handlers can use them
		c.Set(handler.ContextUserID, claims.UserID)
		c.Set(handler.ContextRole, rbac.NormalizeRole(claims.Role))
		c.Next()
	}
}

// RequirePermission 中间件：要求用户具有指定权限
func RequirePermission(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(handler.ContextUserID)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			return
		}

		if err := rbac.CheckPermission(userID, c.GetString(handler.ContextRole), permission); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}

		c.Next()
	}
}

// AppLookup is satisfied by repository.AppStore.
type AppLookup interface {
	GetByID(ctx context.Context, id string) (*model.App, error)
}

// RequireAppOwner loads :app_id and lets only its owner or an admin through.
func RequireAppOwner(apps AppLookup, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := c.Param("app_id")
		if err := model.ValidateAppID(appID); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": apperror.Message(err)})
			return
		}

		app, err := apps.GetByID(c.Request.Context(), appID)
		if err != nil {
			status := apperror.HTTPStatus(err)
			msg := apperror.Message(err)
			if !errors.Is(err, apperror.ErrAppNotFound) {
				logger.WithTrace(c.Request.Context(), log).Error("App lookup failed", zap.String("app_id", appID), zap.Error(err))
				status, msg = http.StatusInternalServerError, "internal server error"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		if err := rbac.CheckOwnership(c.GetString(handler.ContextUserID), c.GetString(handler.ContextRole), app.OwnerID); err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}

		c.Set(handler.ContextApp, app)
		c.Next()
	}
}
