package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName is the topic exchange every job kind is published to.
	ExchangeName = "sendgate.jobs"

	// TraceHeader carries the trace id next to the JSON body.
	TraceHeader = "x-trace-id"

	dialAttempts = 5
	dialBackoff  = 2 * time.Second
)

// NewConnection dials RabbitMQ, retrying a few times so that a worker started
// alongside the broker does not exit on the first refused connection.
func NewConnection(url string) (*amqp091.Connection, error) {
	cfg := amqp091.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp091.Table{"connection_name": "sendgate"},
	}

	var lastErr error
	for i := 0; i < dialAttempts; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * dialBackoff)
		}
		conn, err := amqp091.DialConfig(url, cfg)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", dialAttempts, lastErr)
}

// DeclareExchange declares the durable jobs exchange.
func DeclareExchange(ch *amqp091.Channel) error {
	return ch.ExchangeDeclare(ExchangeName, amqp091.ExchangeTopic, true, false, false, false, nil)
}
