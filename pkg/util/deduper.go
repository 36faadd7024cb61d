package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		ttl:    ttl,
		logger: logger,
	}
}

func dedupKey(scope, id string) string {
	return fmt.Sprintf("dedup:%s:%s", scope, id)
}

// AcquireOnce tries to acquire a dedup lock for a given scope + id.
// returns true if this is the FIRST time processing
// returns false if it's a duplicate
func (d *Deduper) AcquireOnce(ctx context.Context, scope, id string) bool {
	key := dedupKey(scope, id)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		// Redis 不可用时不阻止处理
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Info("Skipped duplicated event",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.String("dedup_key", key),
		)
	}

	return ok
}

// Release drops the lock so a later redelivery is processed again.
func (d *Deduper) Release(ctx context.Context, scope, id string) {
	if err := d.rdb.Del(ctx, dedupKey(scope, id)).Err(); err != nil {
		d.logger.Warn("Redis dedup release failed",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}

// Seen reports whether id was marked done in scope. Redis errors read as not
// seen.
func (d *Deduper) Seen(ctx context.Context, scope, id string) bool {
	n, err := d.rdb.Exists(ctx, dedupKey(scope, id)).Result()
	if err != nil {
		d.logger.Warn("Redis dedup lookup failed, allowing processing",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
		return false
	}
	return n > 0
}

// Mark records id as done in scope for the dedup ttl.
func (d *Deduper) Mark(ctx context.Context, scope, id string) {
	if err := d.rdb.Set(ctx, dedupKey(scope, id), 1, d.ttl).Err(); err != nil {
		d.logger.Warn("Redis dedup mark failed",
			zap.String("scope", scope),
			zap.String("id", id),
			zap.Error(err),
		)
	}
}
