package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"sendgate/pkg/metrics"
	"sendgate/pkg/trace"
)

type MessageHandler func(ctx context.Context, data json.RawMessage) error

type Consumer struct {
	channel    *amqp091.Channel
	queue      amqp091.Queue
	routingKey string
	tag        string
	workers    int
	handler    MessageHandler
	conn       *amqp091.Connection
	logger     *zap.Logger

	// ctx is the parent of every handler context; Stop cancels it so
	// in-flight jobs abandon retry waits and get requeued.
	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a consumer for a specific routing key. workers bounds
// the number of messages handled concurrently and doubles as the channel
// prefetch count.
func NewConsumer(url, queueName, routingKey string, workers int, logger *zap.Logger) (*Consumer, error) {
	if workers <= 0 {
		workers = 1
	}

	conn, err := NewConnection(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	fail := func(format string, err error) (*Consumer, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf(format, err)
	}

	if err := DeclareExchange(ch); err != nil {
		return fail("failed to declare exchange: %w", err)
	}
	if err := DeclareDLQExchange(ch); err != nil {
		return fail("failed to declare dlq exchange: %w", err)
	}
	if _, err := DeclareDLQQueue(ch, routingKey); err != nil {
		return fail("failed to declare dlq queue: %w", err)
	}

	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fail("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, routingKey, ExchangeName, false, nil); err != nil {
		return fail("failed to bind queue: %w", err)
	}

	if err := ch.Qos(workers, 0, false); err != nil {
		return fail("failed to set qos: %w", err)
	}

	logger.Info("Consumer initialized",
		zap.String("routing_key", routingKey),
		zap.String("queue", queueName),
		zap.String("exchange", ExchangeName),
		zap.Int("workers", workers),
	)

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		channel:    ch,
		queue:      q,
		routingKey: routingKey,
		tag:        "sendgate-" + routingKey,
		workers:    workers,
		logger:     logger,
	}, nil
}

func (c *Consumer) SetHandler(h MessageHandler) {
	c.handler = h
}

// Stop cancels the subscription, cancels the context of in-flight handlers
// and waits for them to settle their messages.
func (c *Consumer) Stop() {
	c.stopOnce.Do(func() {
		if c.channel != nil {
			if err := c.channel.Cancel(c.tag, false); err != nil {
				c.logger.Warn("Failed to cancel consumer",
					zap.String("routing_key", c.routingKey),
					zap.Error(err),
				)
			}
		}
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
	})
}

func (c *Consumer) Close() {
	c.Stop()
	if c.channel != nil {
		_ = c.channel.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// StartConsuming starts consuming messages. This method blocks until the
// delivery channel closes and should be called in a goroutine.
func (c *Consumer) StartConsuming() error {
	if c.handler == nil {
		return fmt.Errorf("consumer handler not set")
	}

	deliveries, err := c.channel.Consume(
		c.queue.Name,
		c.tag,
		false, // 手动ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Consumer started consuming messages",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)

	sem := make(chan struct{}, c.workers)
	for msg := range deliveries {
		sem <- struct{}{}
		c.wg.Add(1)
		go func(msg amqp091.Delivery) {
			defer func() {
				<-sem
				c.wg.Done()
			}()
			c.process(msg)
		}(msg)
	}

	c.wg.Wait()
	return nil
}

// jobContext derives a handler context from the consumer lifetime and the
// publisher's trace header.
func (c *Consumer) jobContext(headers amqp091.Table) context.Context {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if traceID, ok := headers[TraceHeader].(string); ok {
		ctx = trace.WithContext(ctx, traceID)
	}
	return ctx
}

// process 保证每条消息都会被 ack 或 nack
func (c *Consumer) process(msg amqp091.Delivery) {
	ctx := c.jobContext(msg.Headers)
	start := time.Now()

	c.logger.Debug("Received message",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
		zap.Int("message_size", len(msg.Body)),
	)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Handler panic recovered",
				zap.String("routing_key", c.routingKey),
				zap.String("queue", c.queue.Name),
				zap.Any("panic", r),
			)
			// Panic → 拒绝消息并重新入队
			if err := msg.Nack(false, true); err != nil {
				c.logger.Error("Failed to nack message after panic",
					zap.String("routing_key", c.routingKey),
					zap.Error(err),
				)
			}
		}
	}()

	err := c.handler(ctx, msg.Body)
	metrics.RecordMQConsumeLatency(c.routingKey, c.queue.Name, time.Since(start))
	if err != nil {
		c.logger.Error("Handler error",
			zap.String("routing_key", c.routingKey),
			zap.String("queue", c.queue.Name),
			zap.Error(err),
		)
		// 业务失败 → 拒绝消息并重新入队，让 MQ 重试
		if err := msg.Nack(false, true); err != nil {
			c.logger.Error("Failed to nack message",
				zap.String("routing_key", c.routingKey),
				zap.Error(err),
			)
		}
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("Failed to ack message",
			zap.String("routing_key", c.routingKey),
			zap.Error(err),
		)
		return
	}
	c.logger.Debug("Message processed successfully",
		zap.String("routing_key", c.routingKey),
		zap.String("queue", c.queue.Name),
	)
}
