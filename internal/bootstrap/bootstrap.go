// Package bootstrap wires stores, providers and services for the binaries.
package bootstrap

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"sendgate/internal/config"
	"sendgate/internal/jobqueue"
	"sendgate/internal/model"
	"sendgate/internal/mqhandler"
	"sendgate/internal/provider"
	"sendgate/internal/repository"
	"sendgate/internal/repository/memrepo"
	"sendgate/internal/service/dispatch"
	"sendgate/internal/service/ledger"
	"sendgate/internal/service/sendconfig"
	"sendgate/internal/service/webhook"
)

type Stores struct {
	Users     repository.UserStore
	Apps      repository.AppStore
	Providers repository.ProviderStore
	Configs   repository.ConfigStore
	Usage     repository.UsageStore
	Logs      repository.SentLogStore
}

func PostgresStores(db *pgxpool.Pool) Stores {
	return Stores{
		Users:     repository.NewUserRepository(db),
		Apps:      repository.NewAppRepository(db),
		Providers: repository.NewProviderRepository(db),
		Configs:   repository.NewConfigRepository(db),
		Usage:     repository.NewUsageRepository(db),
		Logs:      repository.NewSentLogRepository(db),
	}
}

func MemoryStores(s *memrepo.Store) Stores {
	return Stores{
		Users:     s.Users(),
		Apps:      s.Apps(),
		Providers: s.Providers(),
		Configs:   s.Configs(),
		Usage:     s.Usage(),
		Logs:      s.Logs(),
	}
}

// SeedLocal fills an empty in-memory store with both vendors and a PRO demo
// account so memory mode is usable without a database.
func SeedLocal(s *memrepo.Store) {
	s.AddProvider(model.Provider{Name: "SMTP2GO", Type: model.ProviderSMTP2GO, MasterCredentials: model.Credentials{}})
	s.AddProvider(model.Provider{Name: "MailerSend", Type: model.ProviderMailerSend, MasterCredentials: model.Credentials{}})
	s.AddUser(model.User{ID: "u_demo", Plan: model.PlanPro, Credits: model.HobbyCredits})
	s.AddApp(model.App{ID: "app_demo", OwnerID: "u_demo", Active: true})
}

// Options carry the optional Redis-backed collaborators; leave them nil to
// fall back to in-process behavior.
type Options struct {
	Attempts     dispatch.AttemptCounter
	WebhookDedup webhook.Deduper
	Transport    provider.Transport
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

type Services struct {
	Registry   *provider.Registry
	Ledger     *ledger.Ledger
	Config     *sendconfig.Service
	Pipeline   *dispatch.Pipeline
	Reconciler *webhook.Reconciler
	Stores     Stores
}

func NewServices(cfg *config.Config, stores Stores, queue jobqueue.Queue, opts Options) *Services {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Provisioning.HTTPTimeout}
	}
	transport := opts.Transport
	if transport == nil {
		transport = provider.MailTransport{Timeout: cfg.SMTP.Timeout}
	}

	registry := provider.NewDefaultRegistry(provider.Deps{
		HTTP:      httpClient,
		DNS:       provider.NewDNSClient(cfg.DNS, httpClient, cfg.Breaker, log),
		Transport: transport,
		Logs:      stores.Logs,
		Logger:    log,
		Endpoints: cfg.Endpoints(),
	}, cfg.Breaker)

	l := ledger.New(stores.Users, stores.Usage, log)
	return &Services{
		Registry:   registry,
		Ledger:     l,
		Config:     sendconfig.NewService(stores.Apps, stores.Providers, stores.Configs, registry, queue, log),
		Pipeline:   dispatch.NewPipeline(stores.Configs, l, registry, queue, opts.Attempts, cfg.Dispatch, log),
		Reconciler: webhook.NewReconciler(stores.Logs, l, opts.WebhookDedup, log),
		Stores:     stores,
	}
}

// RegisterJobs binds the background job handlers to r. dedup and dlq may be
// nil.
func (s *Services) RegisterJobs(r *jobqueue.Router, dedup mqhandler.Deduper, dlq mqhandler.DLQPublisher, log *zap.Logger) *jobqueue.Router {
	return mqhandler.Register(r,
		mqhandler.NewSendEmailHandler(s.Pipeline, dedup, dlq, log),
		mqhandler.NewProvisionHandler(s.Config, dedup, dlq, log),
	)
}
