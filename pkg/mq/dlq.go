package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	DLQExchangeName = "sendgate.dlq"

	// dlqRetention bounds how long dead letters wait for an operator.
	dlqRetention = 7 * 24 * time.Hour
)

// DLQQueueName is the dead letter queue bound to routingKey.
func DLQQueueName(routingKey string) string {
	return routingKey + ".dlq"
}

// DeclareDLQExchange declares the dead letter exchange.
func DeclareDLQExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(DLQExchangeName, amqp091.ExchangeTopic, true, false, false, false, nil)
}

// DeclareDLQQueue declares and binds the dead letter queue of one job kind.
func DeclareDLQQueue(ch *amqp091.Channel, routingKey string) (amqp091.Queue, error) {
	q, err := ch.QueueDeclare(
		DLQQueueName(routingKey),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp091.Table{"x-message-ttl": dlqRetention.Milliseconds()},
	)
	if err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, routingKey, DLQExchangeName, false, nil); err != nil {
		return amqp091.Queue{}, fmt.Errorf("failed to bind DLQ queue: %w", err)
	}
	return q, nil
}

// PublishToDLQ dead-letters a job, keeping the failure reason and time in
// headers so the body stays replayable as is.
func (p *Publisher) PublishToDLQ(ctx context.Context, routingKey string, payload []byte, originalError, failedAt string) error {
	headers := amqp091.Table{
		"x-original-error":       originalError,
		"x-failed-at":            failedAt,
		"x-original-routing-key": routingKey,
	}
	return p.publishRaw(ctx, DLQExchangeName, routingKey, payload, headers)
}
