package jobqueue

import (
	"context"
	"fmt"

	"sendgate/pkg/metrics"
	"sendgate/pkg/outbox"
)

const outboxAggregate = "job"

// EventInserter is the subset of outbox.Repository used for durable submits.
type EventInserter interface {
	Insert(ctx context.Context, event *outbox.Event) error
}

// OutboxQueue stores jobs in outbox_events; the outbox dispatcher relays them
// to the broker.
type OutboxQueue struct {
	repo EventInserter
}

func NewOutboxQueue(repo EventInserter) *OutboxQueue {
	return &OutboxQueue{repo: repo}
}

func (q *OutboxQueue) Submit(ctx context.Context, job Job) (Handle, error) {
	event, err := outbox.NewEvent(outboxAggregate, job.ID, job.Kind, job.Payload)
	if err != nil {
		return Handle{}, err
	}
	if err := q.repo.Insert(ctx, event); err != nil {
		return Handle{}, fmt.Errorf("submit %s job to outbox: %w", job.Kind, err)
	}
	metrics.IncrementJobSubmitted(job.Kind, ModeOutbox)
	return Handle{JobID: job.ID, Kind: job.Kind, SubmittedAt: event.CreatedAt}, nil
}
