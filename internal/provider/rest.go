package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"sendgate/pkg/circuitbreaker"
)

const maxResponseBody = 1 << 20

var errUpstreamUnavailable = errors.New("upstream returned a server error")

// restClient posts JSON to vendor APIs. Transport failures and 5xx responses
// count against the breaker; other statuses are returned to the caller.
type restClient struct {
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

type restResponse struct {
	Status int
	Body   []byte
}

func (r restResponse) decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c restClient) postJSON(ctx context.Context, url string, headers map[string]string, payload any) (restResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return restResponse{}, fmt.Errorf("encode request: %w", err)
	}

	var resp restResponse
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		res, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		resp.Status = res.StatusCode
		resp.Body, err = io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
		if err != nil {
			return err
		}
		if res.StatusCode >= http.StatusInternalServerError {
			return errUpstreamUnavailable
		}
		return nil
	}

	if c.breaker == nil {
		err = call()
	} else {
		err = c.breaker.Execute(call)
	}
	if errors.Is(err, errUpstreamUnavailable) {
		return resp, nil
	}
	if err != nil {
		return restResponse{}, fmt.Errorf("POST %s: %w", url, err)
	}
	return resp, nil
}
