package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"sendgate/pkg/metrics"
	"sendgate/pkg/trace"
)

var ErrQueueClosed = errors.New("job queue is closed")

type envelope struct {
	kind    string
	data    json.RawMessage
	traceID string
}

// MemoryQueue runs jobs on an in-process worker pool. Jobs are lost on exit.
type MemoryQueue struct {
	router  *Router
	workers int
	logger  *zap.Logger
	now     func() time.Time

	jobs     chan envelope
	mu       sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func NewMemoryQueue(router *Router, workers, buffer int, logger *zap.Logger) *MemoryQueue {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryQueue{
		router:  router,
		workers: workers,
		logger:  logger,
		now:     time.Now,
		jobs:    make(chan envelope, buffer),
	}
}

// Start launches the workers. Jobs run with a background context carrying the
// submitter's trace id.
func (q *MemoryQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for env := range q.jobs {
				ctx := trace.WithContext(context.Background(), env.traceID)
				if err := q.router.Handle(ctx, env.kind, env.data); err != nil {
					q.logger.Error("Job failed",
						zap.String("kind", env.kind),
						zap.String("trace_id", env.traceID),
						zap.Error(err),
					)
				}
			}
		}()
	}
}

// Stop rejects new jobs and waits for queued ones to drain.
func (q *MemoryQueue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.jobs)
		q.mu.Unlock()
		q.wg.Wait()
	})
}

func (q *MemoryQueue) Submit(ctx context.Context, job Job) (Handle, error) {
	data, err := json.Marshal(job.Payload)
	if err != nil {
		return Handle{}, fmt.Errorf("marshal %s job: %w", job.Kind, err)
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return Handle{}, ErrQueueClosed
	}
	select {
	case q.jobs <- envelope{kind: job.Kind, data: data, traceID: trace.FromContext(ctx)}:
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}

	metrics.IncrementJobSubmitted(job.Kind, ModeMemory)
	return Handle{JobID: job.ID, Kind: job.Kind, SubmittedAt: q.now()}, nil
}
