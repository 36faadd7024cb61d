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

// Provisioner is satisfied by *sendconfig.Service.
type Provisioner interface {
	Provision(ctx context.Context, job mqcontracts.ProvisionCredentialsJob) error
}

type ProvisionHandler struct {
	service Provisioner
	settler settler
	logger  *zap.Logger
}

func NewProvisionHandler(service Provisioner, dedup Deduper, dlq DLQPublisher, logger *zap.Logger) *ProvisionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProvisionHandler{
		service: service,
		settler: settler{
			routingKey: mqcontracts.RoutingKeyProvisionCredentials,
			scope:      "provision",
			dedup:      dedup,
			dlq:        dlq,
			now:        time.Now,
		},
		logger: logger,
	}
}

// Handle runs one credentials.provision job. Provisioning failures are
// already recorded on the configuration, so they are dead-lettered rather
// than redelivered.
func (h *ProvisionHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var job mqcontracts.ProvisionCredentialsJob
	if err := json.Unmarshal(raw, &job); err != nil {
		h.logger.Error("Dropping malformed provisioning job",
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
		zap.Int64("config_id", job.ConfigID),
	)

	if h.settler.seen(ctx, job.JobID) {
		log.Info("Skipping provisioning job already handled")
		return nil
	}

	err := h.service.Provision(ctx, job)
	return h.settler.settle(ctx, job.JobID, raw, err, log)
}
