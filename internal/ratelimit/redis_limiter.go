package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"soc-monitor/internal/util"
)

// OriginStore is the shared-store backend of the Redis limiter. The
// repository layer's RateLimitCache satisfies it.
type OriginStore interface {
	IncrementOriginCounter(ctx context.Context, origin string, window time.Duration) (int, error)
	SetTemporaryLock(ctx context.Context, origin string, ttl time.Duration) error
	IsLocked(ctx context.Context, origin string) (bool, error)
}

// RedisLimiter shares fixed-window counters across serving processes. It
// fails open: when Redis is unreachable the request is admitted, because the
// limiter must never turn a cache outage into an evaluation outage.
//
// An origin that keeps hammering an exhausted window gets a temporary lock
// for one full window, so further rejections skip the counter round trip.
type RedisLimiter struct {
	cache  OriginStore
	window time.Duration
	limit  int
}

func NewRedisLimiter(cache OriginStore, window time.Duration, limit int) *RedisLimiter {
	return &RedisLimiter{
		cache:  cache,
		window: window,
		limit:  limit,
	}
}

func (l *RedisLimiter) Admit(originKey string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if locked, err := l.cache.IsLocked(ctx, originKey); err == nil && locked {
		return false
	}

	count, err := l.cache.IncrementOriginCounter(ctx, originKey, l.window)
	if err != nil {
		util.Warn("Rate limit backend unavailable, admitting request",
			zap.String("origin", originKey),
			zap.Error(err))
		return true
	}

	if count <= l.limit {
		return true
	}

	// The counter reaches twice the limit at most once per window, so the
	// lock is attempted a single time per hammering episode.
	if count == l.limit*2 {
		if err := l.cache.SetTemporaryLock(ctx, originKey, l.window); err != nil {
			util.Warn("Failed to lock hammering origin",
				zap.String("origin", originKey),
				zap.Error(err))
		} else {
			util.Warn("Origin locked for hammering an exhausted window",
				zap.String("origin", originKey),
				zap.Duration("lock", l.window))
		}
	}

	return false
}
