package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sendgate/internal/bootstrap"
	"sendgate/internal/config"
	"sendgate/internal/handler"
	"sendgate/internal/httpserver"
	"sendgate/internal/jobqueue"
	"sendgate/internal/repository"
	"sendgate/internal/repository/memrepo"
	"sendgate/pkg/db"
	"sendgate/pkg/logger"
	"sendgate/pkg/mq"
	"sendgate/pkg/outbox"
	redisclient "sendgate/pkg/redis"
	"sendgate/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logger.NewLogger(cfg.Log.Level)
	defer logger.Sync()

	logger.Info("Starting sendgate api...", zap.String("queue_mode", cfg.Queue.Mode))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		services *bootstrap.Services
		replayer handler.OutboxReplayer
		deps     = httpserver.Deps{JWTSecret: cfg.JWT.Secret, Logger: logger}
		cleanup  []func()
	)

	if cfg.Queue.Mode == jobqueue.ModeMemory {
		// 单进程模式：内存存储 + 内存队列，不依赖外部服务
		store := memrepo.New()
		bootstrap.SeedLocal(store)

		router := jobqueue.NewRouter(logger)
		queue := jobqueue.NewMemoryQueue(router, cfg.Dispatch.Workers, cfg.Queue.MemoryBuffer, logger)
		services = bootstrap.NewServices(cfg, bootstrap.MemoryStores(store), queue, bootstrap.Options{Logger: logger})
		services.RegisterJobs(router, nil, nil, logger)
		queue.Start()
		cleanup = append(cleanup, queue.Stop)
	} else {
		dbConn, err := db.NewConnection(cfg.DB, logger)
		if err != nil {
			logger.Fatal("DB initialization failed", zap.Error(err))
		}
		cleanup = append(cleanup, dbConn.Close)
		if cfg.DB.AutoMigrate {
			if err := repository.EnsureSchema(ctx, dbConn); err != nil {
				logger.Fatal("Schema migration failed", zap.Error(err))
			}
		}

		rdb := redisclient.NewRedisClient(cfg.Redis)
		cleanup = append(cleanup, func() { _ = rdb.Close() })
		if err := redisclient.Ping(ctx, rdb); err != nil {
			logger.Warn("Redis not reachable, webhook dedup degraded", zap.Error(err))
		}

		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			logger.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		cleanup = append(cleanup, publisher.Close)

		outboxRepo := outbox.NewRepository(dbConn)
		var queue jobqueue.Queue = jobqueue.NewMQQueue(publisher)
		if cfg.Queue.Mode == jobqueue.ModeOutbox {
			queue = jobqueue.NewOutboxQueue(outboxRepo)
			dispatcher := outbox.NewDispatcher(outboxRepo, publisher, logger).
				WithMaxRetries(cfg.Queue.OutboxRetries)
			go dispatcher.Start(ctx)
		}

		services = bootstrap.NewServices(cfg, bootstrap.PostgresStores(dbConn), queue, bootstrap.Options{
			WebhookDedup: util.NewDeduper(rdb, cfg.Webhook.DedupTTL, logger),
			Logger:       logger,
		})
		replayer = outbox.NewReplayService(outboxRepo, publisher, logger)
		deps.DB = dbConn
		deps.MQ = publisher
	}
	deps.Apps = services.Stores.Apps

	handlers := httpserver.Handlers{
		Dispatch: handler.NewDispatchHandler(services.Pipeline, logger),
		Config:   handler.NewConfigHandler(services.Config, logger),
		Account:  handler.NewAccountHandler(services.Ledger, services.Stores.Usage, services.Stores.Logs, logger),
		Admin:    handler.NewAdminHandler(replayer, logger),
		Webhook:  handler.NewWebhookHandler(services.Reconciler, cfg.Webhook.MailerSendSecret, logger),
	}
	srv := httpserver.NewServer(cfg.Server.Port, httpserver.NewRouter(handlers, deps))

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Port))
		if err := srv.Start(); err != nil {
			logger.Fatal("server start failed", zap.Error(err))
		}
	}()

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down sendgate api gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	// 先停 outbox dispatcher，再按创建的逆序释放资源
	cancel()
	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}

	logger.Info("sendgate api shutdown complete")
}
