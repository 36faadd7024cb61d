package mqhandler

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	mqcontracts "sendgate/contracts/mq"
	"sendgate/pkg/logger"
	"sendgate/pkg/trace"
)

// Deliverer is satisfied by *dispatch.Pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, job mqcontracts.SendEmailJob) error
}

type SendEmailHandler struct {
	pipeline Deliverer
	settler  settler
	logger   *zap.Logger
}

func NewSendEmailHandler(pipeline Deliverer, dedup Deduper, dlq DLQPublisher, logger *zap.Logger) *SendEmailHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendEmailHandler{
		pipeline: pipeline,
		settler: settler{
			routingKey: mqcontracts.RoutingKeySendEmail,
			scope:      "send",
			dedup:      dedup,
			dlq:        dlq,
			now:        time.Now,
		},
		logger: logger,
	}
}

// Handle delivers one email.send job. A job id that already reached a
// terminal outcome is acked without sending again.
func (h *SendEmailHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var job mqcontracts.SendEmailJob
	if err := json.Unmarshal(raw, &job); err != nil {
		// 格式错误的消息重投也无法处理，直接 ack
		h.logger.Error("Dropping malformed send job",
			zap.Error(err),
			zap.Int("payload_size", len(raw)),
		)
		return nil
	}
	if trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, job.TraceID)
	}
	log := logger.WithTrace(ctx, h.logger).With(
		zap.String("job_id", job.JobID),
		zap.String("app_id", job.AppID),
	)

	if h.settler.seen(ctx, job.JobID) {
		log.Info("Skipping send job already handled")
		return nil
	}

	err := h.pipeline.Deliver(ctx, job)
	return h.settler.settle(ctx, job.JobID, raw, err, log)
}
