package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sendgate/internal/model"
)

// PlanChanger is satisfied by *ledger.Ledger.
type PlanChanger interface {
	Upgrade(ctx context.Context, userID string) (*model.User, error)
	Downgrade(ctx context.Context, userID string) (*model.User, error)
}

type UsageLister interface {
	List(ctx context.Context, appID string, from, to time.Time) ([]model.EmailUsage, error)
}

type LogLister interface {
	ListRecent(ctx context.Context, appID string, limit int) ([]model.SentEmailLog, error)
}

const (
	dateLayout       = "2006-01-02"
	defaultUsageDays = 30
)

type AccountHandler struct {
	plans  PlanChanger
	usage  UsageLister
	logs   LogLister
	logger *zap.Logger
	now    func() time.Time
}

func NewAccountHandler(plans PlanChanger, usage UsageLister, logs LogLister, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		plans:  plans,
		usage:  usage,
		logs:   logs,
		logger: orNop(logger),
		now:    time.Now,
	}
}

// Upgrade handles POST /users/:user_id/upgrade.
func (h *AccountHandler) Upgrade(c *gin.Context) {
	h.changePlan(c, h.plans.Upgrade)
}

// Downgrade handles POST /users/:user_id/downgrade.
func (h *AccountHandler) Downgrade(c *gin.Context) {
	h.changePlan(c, h.plans.Downgrade)
}

func (h *AccountHandler) changePlan(c *gin.Context, change func(context.Context, string) (*model.User, error)) {
	userID := c.Param("user_id")
	user, err := change(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("Plan changed",
		zap.String("user_id", userID),
		zap.String("plan", string(user.Plan)),
		zap.String("by", c.GetString(ContextUserID)),
	)
	c.JSON(http.StatusOK, user)
}

// Usage handles GET /apps/:app_id/usage?from=&to=. Dates are YYYY-MM-DD and
// the range defaults to the last 30 days.
func (h *AccountHandler) Usage(c *gin.Context) {
	to := model.Day(h.now())
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			badRequest(c, "invalid to date, expected YYYY-MM-DD")
			return
		}
		to = t
	}
	from := to.AddDate(0, 0, -(defaultUsageDays - 1))
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			badRequest(c, "invalid from date, expected YYYY-MM-DD")
			return
		}
		from = t
	}
	if from.After(to) {
		badRequest(c, "from must not be after to")
		return
	}

	rows, err := h.usage.List(c.Request.Context(), c.Param("app_id"), from, to)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"from":  from.Format(dateLayout),
		"to":    to.Format(dateLayout),
		"usage": rows,
	})
}

// Logs handles GET /apps/:app_id/logs?limit=.
func (h *AccountHandler) Logs(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = n
	}
	logs, err := h.logs.ListRecent(c.Request.Context(), c.Param("app_id"), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
