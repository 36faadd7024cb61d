package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

var ErrNoHandler = errors.New("no handler registered for job kind")

type HandlerFunc func(ctx context.Context, data json.RawMessage) error

// Router dispatches raw job payloads by kind. The MQ consumers and the
// in-memory queue share one.
type Router struct {
	routes map[string]HandlerFunc
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		routes: make(map[string]HandlerFunc),
		logger: logger,
	}
}

func (r *Router) Register(kind string, h HandlerFunc) *Router {
	r.routes[kind] = h
	return r
}

// Kinds lists registered kinds in sorted order.
func (r *Router) Kinds() []string {
	kinds := make([]string, 0, len(r.routes))
	for k := range r.routes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Handler returns the handler for kind, if any.
func (r *Router) Handler(kind string) (HandlerFunc, bool) {
	h, ok := r.routes[kind]
	return h, ok
}

func (r *Router) Handle(ctx context.Context, kind string, data json.RawMessage) (err error) {
	h, ok := r.routes[kind]
	if !ok {
		r.logger.Warn("No handler for job", zap.String("kind", kind))
		return fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}

	// panic 防御，转换为错误返回
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Job handler panic recovered",
				zap.String("kind", kind),
				zap.Any("panic", rec),
			)
			err = fmt.Errorf("job handler %s panicked: %v", kind, rec)
		}
	}()

	return h(ctx, data)
}
