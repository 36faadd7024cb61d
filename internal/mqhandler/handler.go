// Package mqhandler adapts job payloads from the broker to the services and
// decides ack, nack or dead-letter for every outcome.
package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	mqcontracts "sendgate/contracts/mq"
	"sendgate/internal/jobqueue"
	"sendgate/pkg/util"
)

// Deduper marks jobs that reached a terminal outcome. *util.Deduper
// implements it.
type Deduper interface {
	Seen(ctx context.Context, scope, id string) bool
	Mark(ctx context.Context, scope, id string)
}

// DLQPublisher is satisfied by *mq.Publisher.
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, failedAt string) error
}

var _ Deduper = (*util.Deduper)(nil)

// settler holds the outcome handling shared by every job handler. dedup and
// dlq may be nil, as they are in memory mode.
type settler struct {
	routingKey string
	scope      string
	dedup      Deduper
	dlq        DLQPublisher
	now        func() time.Time
}

func (s *settler) seen(ctx context.Context, jobID string) bool {
	return s.dedup != nil && jobID != "" && s.dedup.Seen(ctx, s.scope, jobID)
}

func (s *settler) mark(ctx context.Context, jobID string) {
	if s.dedup != nil && jobID != "" {
		s.dedup.Mark(ctx, s.scope, jobID)
	}
}

// settle returns nil to ack and an error to nack with requeue.
func (s *settler) settle(ctx context.Context, jobID string, raw json.RawMessage, err error, log *zap.Logger) error {
	if err == nil {
		s.mark(ctx, jobID)
		return nil
	}

	// 关闭中断的任务交回 MQ
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		log.Warn("Job interrupted, requeueing", zap.Error(err))
		return err
	}

	retryable, errType := util.IsRetryableError(err)
	if retryable {
		log.Warn("Job failed with retryable error, requeueing",
			zap.String("error_type", errType),
			zap.Error(err),
		)
		return err
	}

	if s.dlq != nil {
		failedAt := s.now().UTC().Format(time.RFC3339)
		if dlqErr := s.dlq.PublishToDLQ(context.WithoutCancel(ctx), s.routingKey, raw, err.Error(), failedAt); dlqErr != nil {
			log.Error("Failed to publish to DLQ, requeueing",
				zap.String("error_type", errType),
				zap.NamedError("original_error", err),
				zap.Error(dlqErr),
			)
			return fmt.Errorf("publish %s to dlq: %w", s.routingKey, dlqErr)
		}
	}
	log.Error("Job failed, sent to DLQ",
		zap.String("error_type", errType),
		zap.Error(err),
	)
	s.mark(ctx, jobID)
	return nil
}

// Register binds the handlers to their routing keys on r.
func Register(r *jobqueue.Router, send *SendEmailHandler, provision *ProvisionHandler) *jobqueue.Router {
	return r.
		Register(mqcontracts.RoutingKeySendEmail, send.Handle).
		Register(mqcontracts.RoutingKeyProvisionCredentials, provision.Handle)
}
