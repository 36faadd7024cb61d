package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"

	"sendgate/pkg/circuitbreaker"
)

type classified struct{ retry bool }

func (c classified) Error() string   { return "classified" }
func (c classified) Retryable() bool { return c.retry }

func TestIsRetryableError(t *testing.T) {
	var syntaxErr error = &json.SyntaxError{}

	cases := []struct {
		name      string
		err       error
		retryable bool
		kind      string
	}{
		{"nil", nil, false, ""},
		{"classified", fmt.Errorf("wrap: %w", classified{retry: false}), false, "classified"},
		{"json", fmt.Errorf("decode: %w", syntaxErr), false, "json_decode_error"},
		{"no rows", pgx.ErrNoRows, false, "not_found"},
		{"breaker", circuitbreaker.ErrCircuitBreakerOpen, true, "circuit_open"},
		{"deadline", context.DeadlineExceeded, true, "timeout"},
		{"canceled", context.Canceled, false, "context_canceled"},
		{"connection", errors.New("failed to connect: connection refused"), true, "db_connection_error"},
		{"unknown", errors.New("boom"), false, "unknown_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retry, kind := IsRetryableError(tc.err)
			assert.Equal(t, tc.retryable, retry)
			assert.Equal(t, tc.kind, kind)
		})
	}
}
