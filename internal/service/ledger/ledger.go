// Package ledger gates sends on the user's plan and credit balance and keeps
// the daily usage counters.
package ledger

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sendgate/internal/model"
	"sendgate/internal/repository"
	"sendgate/pkg/logger"
	"sendgate/pkg/metrics"
)

type Ledger struct {
	users  repository.UserStore
	usage  repository.UsageStore
	logger *zap.Logger
}

func New(users repository.UserStore, usage repository.UsageStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{users: users, usage: usage, logger: logger}
}

// CheckCredit reports whether userID may send one more email. PRO users
// always may; HOBBY users need a positive balance.
func (l *Ledger) CheckCredit(ctx context.Context, userID string) (bool, error) {
	u, err := l.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	allowed := u.Plan == model.PlanPro || u.Credits > 0
	if allowed {
		metrics.IncrementCreditCheck("allowed")
	} else {
		metrics.IncrementCreditCheck("denied")
	}
	return allowed, nil
}

// Deduct takes one credit. Failures are logged and swallowed: the email has
// already gone out.
func (l *Ledger) Deduct(ctx context.Context, userID string) {
	log := logger.WithTrace(ctx, l.logger).With(zap.String("user_id", userID))

	ok, err := l.users.DeductCredit(ctx, userID)
	if err != nil {
		log.Error("Failed to deduct credit", zap.Error(err))
		return
	}
	if !ok {
		log.Warn("No credit deducted, user missing or balance already zero")
	}
}

// RecordUsage bumps the day's counter for outcome.
func (l *Ledger) RecordUsage(ctx context.Context, appID, userID string, day time.Time, outcome model.UsageOutcome) error {
	if err := l.usage.Increment(ctx, appID, userID, day, outcome); err != nil {
		logger.WithTrace(ctx, l.logger).Error("Failed to record usage",
			zap.String("app_id", appID),
			zap.String("user_id", userID),
			zap.String("outcome", string(outcome)),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (l *Ledger) Upgrade(ctx context.Context, userID string) (*model.User, error) {
	if err := model.ValidateUserID(userID); err != nil {
		return nil, err
	}
	return l.users.SetPlan(ctx, userID, model.PlanPro, nil)
}

// Downgrade returns the user to HOBBY and resets the balance to the hobby
// allotment.
func (l *Ledger) Downgrade(ctx context.Context, userID string) (*model.User, error) {
	if err := model.ValidateUserID(userID); err != nil {
		return nil, err
	}
	credits := model.HobbyCredits
	return l.users.SetPlan(ctx, userID, model.PlanHobby, &credits)
}
