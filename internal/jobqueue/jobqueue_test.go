package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sendgate/pkg/outbox"
	"sendgate/pkg/trace"
)

type payload struct {
	Value string `json:"value"`
}

func TestRouterDispatchesByKind(t *testing.T) {
	var got payload
	r := NewRouter(nil).Register("a", func(_ context.Context, data json.RawMessage) error {
		return json.Unmarshal(data, &got)
	})

	require.NoError(t, r.Handle(context.Background(), "a", json.RawMessage(`{"value":"x"}`)))
	assert.Equal(t, "x", got.Value)
	assert.Equal(t, []string{"a"}, r.Kinds())

	err := r.Handle(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestRouterRecoversPanic(t *testing.T) {
	r := NewRouter(nil).Register("boom", func(context.Context, json.RawMessage) error {
		panic("kaboom")
	})
	err := r.Handle(context.Background(), "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestMemoryQueueRunsJobsWithTrace(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	var traces []string
	done := make(chan struct{}, 2)

	r := NewRouter(nil).Register("k", func(ctx context.Context, data json.RawMessage) error {
		var p payload
		assert.NoError(t, json.Unmarshal(data, &p))
		mu.Lock()
		seen = append(seen, p.Value)
		traces = append(traces, trace.FromContext(ctx))
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	q := NewMemoryQueue(r, 2, 4, nil)
	q.Start()

	ctx := trace.WithContext(context.Background(), "trace-1")
	h, err := q.Submit(ctx, Job{ID: "j1", Kind: "k", Payload: payload{Value: "one"}})
	require.NoError(t, err)
	assert.Equal(t, "j1", h.JobID)
	_, err = q.Submit(ctx, Job{ID: "j2", Kind: "k", Payload: payload{Value: "two"}})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job did not run")
		}
	}
	q.Stop()

	assert.ElementsMatch(t, []string{"one", "two"}, seen)
	assert.Equal(t, []string{"trace-1", "trace-1"}, traces)

	_, err = q.Submit(context.Background(), Job{ID: "j3", Kind: "k"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

type recordingPublisher struct {
	keys     []string
	payloads []any
	err      error
}

func (p *recordingPublisher) PublishWithContext(_ context.Context, key string, payload any) error {
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
	return p.err
}

func TestMQQueueSubmit(t *testing.T) {
	pub := &recordingPublisher{}
	q := NewMQQueue(pub)

	h, err := q.Submit(context.Background(), Job{ID: "j1", Kind: "email.send", Payload: payload{Value: "v"}})
	require.NoError(t, err)
	assert.Equal(t, "j1", h.JobID)
	assert.Equal(t, []string{"email.send"}, pub.keys)

	pub.err = errors.New("broker down")
	_, err = q.Submit(context.Background(), Job{ID: "j2", Kind: "email.send"})
	assert.ErrorContains(t, err, "broker down")
}

type recordingInserter struct {
	events []*outbox.Event
}

func (r *recordingInserter) Insert(_ context.Context, e *outbox.Event) error {
	e.ID = int64(len(r.events) + 1)
	e.CreatedAt = time.Unix(100, 0)
	r.events = append(r.events, e)
	return nil
}

func TestOutboxQueueSubmit(t *testing.T) {
	repo := &recordingInserter{}
	q := NewOutboxQueue(repo)

	h, err := q.Submit(context.Background(), Job{ID: "j1", Kind: "credentials.provision", Payload: payload{Value: "v"}})
	require.NoError(t, err)
	assert.Equal(t, time.Unix(100, 0), h.SubmittedAt)

	require.Len(t, repo.events, 1)
	e := repo.events[0]
	assert.Equal(t, "job", e.AggregateType)
	assert.Equal(t, "j1", e.AggregateID)
	assert.Equal(t, "credentials.provision", e.RoutingKey)
	assert.JSONEq(t, `{"value":"v"}`, string(e.Payload))
	assert.Equal(t, outbox.StatusPending, e.Status)
}
