package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	mqcontracts "sendgate/contracts/mq"
	"sendgate/internal/bootstrap"
	"sendgate/internal/config"
	"sendgate/internal/jobqueue"
	"sendgate/internal/repository"
	"sendgate/pkg/db"
	"sendgate/pkg/logger"
	"sendgate/pkg/mq"
	redisclient "sendgate/pkg/redis"
	"sendgate/pkg/util"
)

// consumerBinding binds a routing key to its durable queue.
type consumerBinding struct {
	queue      string
	routingKey string
}

var consumers = []consumerBinding{
	{queue: mqcontracts.QueueSendEmail, routingKey: mqcontracts.RoutingKeySendEmail},
	{queue: mqcontracts.QueueProvisionCredentials, routingKey: mqcontracts.RoutingKeyProvisionCredentials},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logger.NewLogger(cfg.Log.Level)
	defer logger.Sync()

	if cfg.Queue.Mode == jobqueue.ModeMemory {
		logger.Fatal("Worker is not used in memory queue mode; the api runs jobs in process")
	}

	logger.Info("Starting sendgate worker...")

	// Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	if err := redisclient.Ping(context.Background(), rdb); err != nil {
		logger.Warn("Redis not reachable, dedup and attempt budget degraded", zap.Error(err))
	}

	// 每个 job 的尝试次数跨重投递保留
	attempts := util.NewRetryCounter(rdb, cfg.Webhook.DedupTTL)
	deduper := util.NewDeduper(rdb, cfg.Webhook.DedupTTL, logger)

	// DB
	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB connection failed", zap.Error(err))
	}
	if cfg.DB.AutoMigrate {
		if err := repository.EnsureSchema(context.Background(), dbConn); err != nil {
			logger.Fatal("Schema migration failed", zap.Error(err))
		}
	}

	logger.Info("DB ready")

	// publisher: 重新投递 + DLQ
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("failed to init publisher", zap.Error(err))
	}

	services := bootstrap.NewServices(cfg, bootstrap.PostgresStores(dbConn), jobqueue.NewMQQueue(publisher), bootstrap.Options{
		Attempts: attempts,
		Logger:   logger,
	})
	router := services.RegisterJobs(jobqueue.NewRouter(logger), deduper, publisher, logger)

	started := make([]*mq.Consumer, 0, len(consumers))
	for _, b := range consumers {
		logger.Info("Init consumer", zap.String("queue", b.queue))
		consumer, err := mq.NewConsumer(cfg.MQ.URL, b.queue, b.routingKey, cfg.Dispatch.Workers, logger)
		if err != nil {
			logger.Fatal("Consumer init failed", zap.String("queue", b.queue), zap.Error(err))
		}
		routingKey := b.routingKey
		consumer.SetHandler(func(ctx context.Context, data json.RawMessage) error {
			return router.Handle(ctx, routingKey, data)
		})
		go func() {
			if err := consumer.StartConsuming(); err != nil {
				logger.Fatal("Consumer crashed", zap.String("queue", b.queue), zap.Error(err))
			}
		}()
		started = append(started, consumer)
	}

	logger.Info("Worker running", zap.Strings("kinds", router.Kinds()))

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down sendgate worker gracefully...")

	// 停止所有消费者，等待进行中的任务完成
	logger.Info("Stopping MQ consumers...")
	for _, c := range started {
		c.Close()
	}

	logger.Info("Closing database connection...")
	dbConn.Close()

	logger.Info("Closing Redis connection...")
	_ = rdb.Close()

	logger.Info("Closing publisher...")
	publisher.Close()

	logger.Info("sendgate worker shutdown complete")
}
