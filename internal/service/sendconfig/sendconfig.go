// Package sendconfig drives a sending configuration through its lifecycle:
// bind, request provisioning, background provisioning, credential lookup.
package sendconfig

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "sendgate/contracts/mq"
	"sendgate/internal/apperror"
	"sendgate/internal/jobqueue"
	"sendgate/internal/model"
	"sendgate/internal/provider"
	"sendgate/internal/repository"
	"sendgate/pkg/logger"
	"sendgate/pkg/metrics"
	"sendgate/pkg/trace"
)

// ClientFactory is satisfied by *provider.Registry.
type ClientFactory interface {
	Client(tag model.ProviderType, master model.Credentials) (provider.Client, error)
}

// requiredSMTPKeys must all be present for credentials to be usable.
var requiredSMTPKeys = []string{model.CredHost, model.CredUsername, model.CredPassword, model.CredPort}

type Service struct {
	apps      repository.AppStore
	providers repository.ProviderStore
	configs   repository.ConfigStore
	clients   ClientFactory
	queue     jobqueue.Queue
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(
	apps repository.AppStore,
	providers repository.ProviderStore,
	configs repository.ConfigStore,
	clients ClientFactory,
	queue jobqueue.Queue,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		apps:      apps,
		providers: providers,
		configs:   configs,
		clients:   clients,
		queue:     queue,
		logger:    logger,
		now:       time.Now,
	}
}

// Bind makes providerID the app's active provider.
func (s *Service) Bind(ctx context.Context, appID string, providerID int64) (*model.SendingConfiguration, error) {
	if err := model.ValidateAppID(appID); err != nil {
		return nil, err
	}
	if providerID <= 0 {
		return nil, apperror.ErrInvalidInput.WithMessage("provider_id must be positive")
	}

	cfg, err := s.configs.Bind(ctx, appID, providerID)
	if err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.logger).Info("Provider bound",
		zap.String("app_id", appID),
		zap.Int64("provider_id", providerID),
		zap.Int64("config_id", cfg.ID),
	)
	return cfg, nil
}

// Active returns the app's active configuration.
func (s *Service) Active(ctx context.Context, appID string) (*model.SendingConfiguration, error) {
	if err := model.ValidateAppID(appID); err != nil {
		return nil, err
	}
	return s.configs.GetActive(ctx, appID)
}

// RequestProvisioning moves the active configuration from idle (or error) to
// pending and submits the background job. A configuration that already holds
// credentials is left untouched.
func (s *Service) RequestProvisioning(ctx context.Context, appID string) (jobqueue.Handle, error) {
	if err := model.ValidateAppID(appID); err != nil {
		return jobqueue.Handle{}, err
	}
	app, err := s.apps.GetByID(ctx, appID)
	if err != nil {
		return jobqueue.Handle{}, err
	}
	cfg, err := s.configs.GetActive(ctx, appID)
	if err != nil {
		return jobqueue.Handle{}, err
	}
	if !cfg.Credentials.Empty() {
		return jobqueue.Handle{}, apperror.ErrCredentialsAlreadyConfigured
	}

	ok, err := s.configs.MarkPending(ctx, cfg.ID)
	if err != nil {
		return jobqueue.Handle{}, err
	}
	if !ok {
		return jobqueue.Handle{}, s.pendingConflict(ctx, cfg.ID)
	}

	job := mqcontracts.ProvisionCredentialsJob{
		JobID:       uuid.NewString(),
		ConfigID:    cfg.ID,
		AppID:       appID,
		OwnerID:     app.OwnerID,
		ProviderID:  cfg.ProviderID,
		TraceID:     trace.FromContext(ctx),
		SubmittedAt: s.now().UTC(),
	}
	handle, err := s.queue.Submit(ctx, jobqueue.Job{
		ID:      job.JobID,
		Kind:    mqcontracts.RoutingKeyProvisionCredentials,
		Payload: job,
	})
	if err != nil {
		// 入队失败不能让配置卡在 pending
		if markErr := s.configs.MarkError(context.WithoutCancel(ctx), cfg.ID, "failed to enqueue provisioning: "+err.Error()); markErr != nil {
			s.logger.Error("Failed to record enqueue failure", zap.Int64("config_id", cfg.ID), zap.Error(markErr))
		}
		return jobqueue.Handle{}, err
	}

	logger.WithTrace(ctx, s.logger).Info("Provisioning requested",
		zap.String("app_id", appID),
		zap.Int64("config_id", cfg.ID),
		zap.String("job_id", job.JobID),
	)
	return handle, nil
}

// pendingConflict explains why MarkPending matched nothing.
func (s *Service) pendingConflict(ctx context.Context, configID int64) error {
	cur, err := s.configs.GetByID(ctx, configID)
	if err != nil {
		return err
	}
	switch {
	case !cur.Credentials.Empty():
		return apperror.ErrCredentialsAlreadyConfigured
	case cur.Status == model.ProvisioningPending:
		return apperror.ErrProvisioningInProgress
	case !cur.IsActive:
		return apperror.ErrNoActiveConfig
	default:
		return apperror.ErrCredentialsAlreadyConfigured
	}
}

// Provision runs one background provisioning attempt. Every exit leaves the
// configuration in success or error; jobs for configurations no longer
// pending are skipped.
func (s *Service) Provision(ctx context.Context, job mqcontracts.ProvisionCredentialsJob) (err error) {
	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("app_id", job.AppID),
		zap.Int64("config_id", job.ConfigID),
		zap.String("job_id", job.JobID),
	)

	cfg, err := s.configs.GetByID(ctx, job.ConfigID)
	if err != nil {
		return err
	}
	if cfg.Status != model.ProvisioningPending {
		log.Info("Skipping provisioning, configuration not pending", zap.String("status", string(cfg.Status)))
		return nil
	}

	vendor := "unknown"
	fail := func(cause error) error {
		msg := apperror.Message(cause)
		metrics.IncrementProvisioning(vendor, "error")
		log.Error("Provisioning failed", zap.String("provider", vendor), zap.String("error", msg))
		if markErr := s.configs.MarkError(context.WithoutCancel(ctx), cfg.ID, msg); markErr != nil {
			return fmt.Errorf("record provisioning error: %w", markErr)
		}
		return cause
	}

	defer func() {
		if r := recover(); r != nil {
			err = fail(apperror.ErrProvisioningFailed.WithMessage("provisioning panicked: %v", r))
		}
	}()

	p, err := s.providers.GetByID(ctx, cfg.ProviderID)
	if err != nil {
		return fail(err)
	}
	vendor = string(p.Type)

	client, err := s.clients.Client(p.Type, p.MasterCredentials)
	if err != nil {
		return fail(err)
	}

	ownerID := job.OwnerID
	if ownerID == "" {
		ownerID = cfg.UserID
	}
	creds, err := client.Provision(ctx, provider.AppData{AppID: cfg.AppID, OwnerID: ownerID})
	if err != nil {
		return fail(err)
	}
	if creds.Empty() {
		return fail(apperror.ErrProvisioningFailed.WithMessage("%s returned empty credentials", vendor))
	}

	if err := s.configs.MarkSuccess(ctx, cfg.ID, creds); err != nil {
		return fail(fmt.Errorf("store credentials: %w", err))
	}
	metrics.IncrementProvisioning(vendor, "success")
	log.Info("Provisioning succeeded", zap.String("provider", vendor))
	return nil
}

// SMTPCredentials returns the active configuration's credentials, failing
// when any connection key is missing.
func (s *Service) SMTPCredentials(ctx context.Context, appID string) (model.Credentials, error) {
	cfg, err := s.Active(ctx, appID)
	if err != nil {
		return nil, err
	}
	for _, k := range requiredSMTPKeys {
		if cfg.Credentials[k] == "" {
			name := "unknown"
			if cfg.Provider != nil {
				name = cfg.Provider.Name
				if name == "" {
					name = string(cfg.Provider.Type)
				}
			}
			return nil, apperror.ErrIncompleteCredentials.WithMessage(
				"Stored SMTP credentials for provider '%s' are incomplete.", name)
		}
	}
	return cfg.Credentials, nil
}
