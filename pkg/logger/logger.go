package logger

import (
	"context"

	"go.uber.org/zap"

	"sendgate/pkg/trace"
)

// NewLogger builds the production JSON logger at the given level. "debug"
// switches to the development encoder; an unknown level falls back to info.
func NewLogger(level string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(level); err == nil && level != "" {
		cfg.Level = lvl
	}

	l, err := cfg.Build(zap.Fields(zap.String("service", "sendgate")))
	if err != nil {
		panic(err)
	}
	return l
}

// WithTrace 从 context 中提取 trace_id 并添加到 logger
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
