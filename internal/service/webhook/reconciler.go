// Package webhook turns vendor delivery callbacks into SentEmailLog
// transitions.
package webhook

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
	"sendgate/internal/repository"
	"sendgate/pkg/logger"
	"sendgate/pkg/metrics"
)

const dedupScope = "webhook"

type Result string

const (
	ResultSuccess Result = "success"
	ResultIgnored Result = "ignored"
)

// Deduper is satisfied by *util.Deduper.
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, id string) bool
	Release(ctx context.Context, scope, id string)
}

type UsageRecorder interface {
	RecordUsage(ctx context.Context, appID, userID string, day time.Time, outcome model.UsageOutcome) error
}

type Reconciler struct {
	logs   repository.SentLogStore
	usage  UsageRecorder
	dedup  Deduper
	logger *zap.Logger
}

// NewReconciler builds a reconciler; dedup may be nil.
func NewReconciler(logs repository.SentLogStore, usage UsageRecorder, dedup Deduper, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{logs: logs, usage: usage, dedup: dedup, logger: logger}
}

func (ev Event) dedupID() string {
	return string(ev.Provider) + ":" + string(ev.Type) + ":" + ev.Tag + ":" + ev.MessageID
}

// Reconcile applies ev to the matching log. An event for a log that already
// reached the event's state or a later one is a success.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (res Result, err error) {
	log := logger.WithTrace(ctx, r.logger).With(
		zap.String("provider", string(ev.Provider)),
		zap.String("event", ev.RawType),
		zap.String("message_tag", ev.Tag),
		zap.String("message_id", ev.MessageID),
	)
	defer func() {
		outcome := string(res)
		if err != nil {
			outcome = "error"
			if errors.Is(err, apperror.ErrNoMatchingLog) {
				outcome = "no_match"
			}
		}
		metrics.IncrementWebhookEvent(string(ev.Provider), string(ev.Type), outcome)
	}()

	switch ev.Type {
	case EventDelivered:
		if ev.Tag == "" {
			return "", apperror.ErrMissingMessageTag
		}
	case EventOpened:
		if ev.MessageID == "" {
			return "", apperror.ErrInvalidInput.WithMessage("Missing message_id")
		}
	case EventBounced:
		if ev.Tag == "" && ev.MessageID == "" {
			return "", apperror.ErrInvalidInput.WithMessage("Missing message_id")
		}
	default:
		log.Debug("Ignoring webhook event")
		return ResultIgnored, nil
	}

	if r.dedup != nil && !r.dedup.AcquireOnce(ctx, dedupScope, ev.dedupID()) {
		log.Info("Duplicate webhook event")
		return ResultSuccess, nil
	}

	switch ev.Type {
	case EventDelivered:
		err = r.delivered(ctx, ev)
	case EventOpened:
		err = r.opened(ctx, ev)
	case EventBounced:
		err = r.bounced(ctx, ev)
	}
	if err != nil {
		if r.dedup != nil {
			r.dedup.Release(context.WithoutCancel(ctx), dedupScope, ev.dedupID())
		}
		log.Warn("Webhook event not applied", zap.Error(err))
		return "", err
	}
	log.Info("Webhook event applied")
	return ResultSuccess, nil
}

func (r *Reconciler) delivered(ctx context.Context, ev Event) error {
	ok, err := r.logs.MarkDelivered(ctx, ev.Tag, ev.MessageID, ev.Timestamp)
	if err != nil || ok {
		return err
	}
	existing, err := r.logs.FindByTag(ctx, ev.Tag)
	if err != nil {
		return err
	}
	return requireReached(existing, model.EmailDelivered, model.EmailOpened, model.EmailBounced)
}

func (r *Reconciler) opened(ctx context.Context, ev Event) error {
	updated, err := r.logs.MarkOpened(ctx, ev.MessageID, ev.Timestamp)
	if err != nil {
		return err
	}
	if updated != nil {
		if err := r.usage.RecordUsage(ctx, updated.AppID, updated.UserID, ev.Timestamp, model.UsageRead); err != nil {
			// 状态已更新，读数丢失可以接受
			logger.WithTrace(ctx, r.logger).Warn("Failed to count read", zap.Error(err))
		}
		return nil
	}
	existing, err := r.logs.FindByMessageID(ctx, ev.MessageID)
	if err != nil {
		return err
	}
	return requireReached(existing, model.EmailOpened)
}

func (r *Reconciler) bounced(ctx context.Context, ev Event) error {
	ok, err := r.logs.MarkBounced(ctx, ev.MessageID, ev.Tag, ev.Timestamp)
	if err != nil || ok {
		return err
	}
	var existing *model.SentEmailLog
	if ev.MessageID != "" {
		existing, err = r.logs.FindByMessageID(ctx, ev.MessageID)
	}
	if existing == nil && ev.Tag != "" {
		existing, err = r.logs.FindByTag(ctx, ev.Tag)
	}
	if err != nil {
		return err
	}
	return requireReached(existing, model.EmailBounced)
}

func requireReached(l *model.SentEmailLog, states ...model.EmailStatus) error {
	if l == nil {
		return apperror.ErrNoMatchingLog
	}
	for _, s := range states {
		if l.Status == s {
			return nil
		}
	}
	return apperror.ErrNoMatchingLog
}
