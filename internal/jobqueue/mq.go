package jobqueue

import (
	"context"
	"fmt"
	"time"

	"sendgate/pkg/metrics"
)

// Publisher is the subset of mq.Publisher the broker queue needs.
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// MQQueue publishes jobs straight to the broker.
type MQQueue struct {
	publisher Publisher
	now       func() time.Time
}

func NewMQQueue(publisher Publisher) *MQQueue {
	return &MQQueue{publisher: publisher, now: time.Now}
}

func (q *MQQueue) Submit(ctx context.Context, job Job) (Handle, error) {
	if err := q.publisher.PublishWithContext(ctx, job.Kind, job.Payload); err != nil {
		return Handle{}, fmt.Errorf("submit %s job: %w", job.Kind, err)
	}
	metrics.IncrementJobSubmitted(job.Kind, ModeMQ)
	return Handle{JobID: job.ID, Kind: job.Kind, SubmittedAt: q.now()}, nil
}
