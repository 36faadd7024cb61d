package mq

import (
	"context"
	"testing"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sendgate/pkg/trace"
)

func TestStopCancelsJobContexts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{ctx: ctx, cancel: cancel, routingKey: "email.send", logger: zap.NewNop()}

	jobCtx := c.jobContext(amqp091.Table{TraceHeader: "trace-1"})
	assert.Equal(t, "trace-1", trace.FromContext(jobCtx))
	require.NoError(t, jobCtx.Err())

	c.Stop()
	select {
	case <-jobCtx.Done():
	default:
		t.Fatal("job context not cancelled by Stop")
	}
	assert.ErrorIs(t, jobCtx.Err(), context.Canceled)

	// second Stop is a no-op
	assert.NotPanics(t, c.Stop)
}

func TestJobContextWithoutTraceHeader(t *testing.T) {
	c := &Consumer{logger: zap.NewNop()}
	ctx := c.jobContext(nil)
	assert.Empty(t, trace.FromContext(ctx))
	assert.NoError(t, ctx.Err())
}
