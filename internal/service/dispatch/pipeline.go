// Package dispatch implements the credit-gated send pipeline. SendEmail runs
// on the request path and only enqueues; Deliver runs on a worker and owns
// the provider call and its retries.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
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
	"sendgate/pkg/util"
)

const (
	DefaultMaxRetries = 3
	DefaultRetryDelay = 10 * time.Second
)

type CreditLedger interface {
	CheckCredit(ctx context.Context, userID string) (bool, error)
	Deduct(ctx context.Context, userID string)
	RecordUsage(ctx context.Context, appID, userID string, day time.Time, outcome model.UsageOutcome) error
}

// ClientFactory is satisfied by *provider.Registry.
type ClientFactory interface {
	Client(tag model.ProviderType, master model.Credentials) (provider.Client, error)
}

// AttemptCounter persists the attempt count of a job across redeliveries.
// *util.RetryCounter implements it.
type AttemptCounter interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

var _ AttemptCounter = (*util.RetryCounter)(nil)

type Config struct {
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Workers    int           `yaml:"workers"`
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// Request is a send as accepted from the API.
type Request struct {
	AppID   string `json:"-"`
	UserID  string `json:"-"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

type Pipeline struct {
	configs  repository.ConfigStore
	ledger   CreditLedger
	clients  ClientFactory
	queue    jobqueue.Queue
	attempts AttemptCounter
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewPipeline(
	configs repository.ConfigStore,
	ledger CreditLedger,
	clients ClientFactory,
	queue jobqueue.Queue,
	attempts AttemptCounter,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if attempts == nil {
		attempts = newLocalCounter()
	}
	return &Pipeline{
		configs:  configs,
		ledger:   ledger,
		clients:  clients,
		queue:    queue,
		attempts: attempts,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (r Request) validate() error {
	if err := model.ValidateAppID(r.AppID); err != nil {
		return err
	}
	if err := model.ValidateUserID(r.UserID); err != nil {
		return err
	}
	if strings.TrimSpace(r.To) == "" {
		return apperror.ErrInvalidInput.WithMessage("recipient is required")
	}
	return nil
}

// SendEmail checks the app's configuration and the user's credit, then
// submits a delivery job. Both rejections record one FAIL usage event.
func (p *Pipeline) SendEmail(ctx context.Context, req Request) (jobqueue.Handle, error) {
	if err := req.validate(); err != nil {
		return jobqueue.Handle{}, err
	}
	log := logger.WithTrace(ctx, p.logger).With(
		zap.String("app_id", req.AppID),
		zap.String("user_id", req.UserID),
	)

	if _, err := p.configs.GetActive(ctx, req.AppID); err != nil {
		if errors.Is(err, apperror.ErrNoActiveConfig) {
			p.recordUsage(ctx, req.AppID, req.UserID, model.UsageFail)
			log.Warn("Send rejected, no active configuration")
		}
		return jobqueue.Handle{}, err
	}

	ok, err := p.ledger.CheckCredit(ctx, req.UserID)
	if err != nil {
		return jobqueue.Handle{}, err
	}
	if !ok {
		p.recordUsage(ctx, req.AppID, req.UserID, model.UsageFail)
		log.Warn("Send rejected, insufficient credits")
		return jobqueue.Handle{}, apperror.ErrInsufficientCredits
	}

	job := mqcontracts.SendEmailJob{
		JobID:       uuid.NewString(),
		AppID:       req.AppID,
		UserID:      req.UserID,
		To:          req.To,
		Subject:     req.Subject,
		HTML:        req.HTML,
		TraceID:     trace.FromContext(ctx),
		SubmittedAt: p.now().UTC(),
	}
	handle, err := p.queue.Submit(ctx, jobqueue.Job{ID: job.JobID, Kind: mqcontracts.RoutingKeySendEmail, Payload: job})
	if err != nil {
		log.Error("Failed to submit send job", zap.Error(err))
		return jobqueue.Handle{}, err
	}
	log.Info("Send job submitted", zap.String("job_id", job.JobID))
	return handle, nil
}

// Deliver performs the send with up to MaxRetries retries after the first
// attempt, a fixed delay apart. Each attempt is a full provider call with its
// own correlation tag. Credit is deducted only on success.
func (p *Pipeline) Deliver(ctx context.Context, job mqcontracts.SendEmailJob) error {
	log := logger.WithTrace(ctx, p.logger).With(
		zap.String("app_id", job.AppID),
		zap.String("user_id", job.UserID),
		zap.String("job_id", job.JobID),
	)

	cfg, err := p.configs.GetActive(ctx, job.AppID)
	if err != nil {
		if errors.Is(err, apperror.ErrNoActiveConfig) {
			p.recordUsage(ctx, job.AppID, job.UserID, model.UsageFail)
		}
		return err
	}
	if cfg.Provider == nil {
		p.recordUsage(ctx, job.AppID, job.UserID, model.UsageFail)
		return apperror.ErrProviderNotFound
	}
	vendor := string(cfg.Provider.Type)

	client, err := p.clients.Client(cfg.Provider.Type, cfg.Provider.MasterCredentials)
	if err != nil {
		p.recordUsage(ctx, job.AppID, job.UserID, model.UsageFail)
		return err
	}

	msg := provider.Message{
		AppID:   job.AppID,
		UserID:  job.UserID,
		To:      job.To,
		Subject: job.Subject,
		HTML:    job.HTML,
	}
	key := util.FormatRetryKey("send", job.JobID)
	maxAttempts := 1 + p.cfg.MaxRetries

	attempt := 0
	for local := 1; ; local++ {
		attempt = p.nextAttempt(ctx, key, local, log)
		if attempt > maxAttempts {
			// 重投递时预算已用完
			attempt = maxAttempts
			break
		}

		if client.Send(ctx, cfg.Credentials, msg) {
			p.recordUsage(ctx, job.AppID, job.UserID, model.UsageSent)
			p.ledger.Deduct(ctx, job.UserID)
			p.resetAttempts(ctx, key, log)
			metrics.IncrementEmailsSent(vendor, "sent")
			log.Info("Email delivered to provider", zap.Int("attempt", attempt), zap.String("provider", vendor))
			return nil
		}

		p.recordUsage(ctx, job.AppID, job.UserID, model.UsageFail)
		if attempt >= maxAttempts {
			break
		}
		log.Warn("Send attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", p.cfg.RetryDelay),
		)
		if err := p.sleep(ctx, p.cfg.RetryDelay); err != nil {
			return err
		}
	}

	p.resetAttempts(ctx, key, log)
	metrics.IncrementEmailsSent(vendor, "failed")
	log.Error("Send failed after all attempts", zap.Int("attempts", attempt), zap.String("provider", vendor))
	return apperror.ErrSendFailed.WithMessage("failed to send email after %d attempts", attempt)
}

func (p *Pipeline) nextAttempt(ctx context.Context, key string, local int, log *zap.Logger) int {
	n, err := p.attempts.IncrementAndGet(ctx, key)
	if err != nil {
		log.Warn("Attempt counter unavailable, using local count", zap.Error(err))
		return local
	}
	return int(n)
}

func (p *Pipeline) resetAttempts(ctx context.Context, key string, log *zap.Logger) {
	if err := p.attempts.Reset(context.WithoutCancel(ctx), key); err != nil {
		log.Warn("Failed to reset attempt counter", zap.Error(err))
	}
}

func (p *Pipeline) recordUsage(ctx context.Context, appID, userID string, outcome model.UsageOutcome) {
	// 记录失败不影响主流程，ledger 已记日志
	_ = p.ledger.RecordUsage(context.WithoutCancel(ctx), appID, userID, p.now(), outcome)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// localCounter backs the attempt budget when Redis is not wired.
type localCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newLocalCounter() *localCounter {
	return &localCounter{counts: make(map[string]int64)}
}

func (c *localCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[key]++
	return c.counts[key], nil
}

func (c *localCounter) Reset(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, key)
	return nil
}
