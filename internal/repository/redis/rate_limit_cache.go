package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"soc-monitor/internal/client"
	"soc-monitor/internal/util"
)

const (
	ipRateLimitPrefix = "ip_rate_limit:"
	tempLockPrefix    = "temp_lock:"
)

// RateLimitCache backs the shared-store rate limiter. Counters live under
// per-origin keys whose TTL marks the end of the fixed window.
type RateLimitCache struct {
	client *client.RedisClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// IncrementOriginCounter bumps the fixed-window counter for an origin and
// returns the count within the current window. The TTL is set only when the
// increment opened a new window.
func (c *RateLimitCache) IncrementOriginCounter(ctx context.Context, origin string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := ipRateLimitPrefix + origin
	count, err := c.client.IncrWindow(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment origin rate limit counter",
			zap.String("origin", origin),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment origin counter: %w", err)
	}

	util.Debug("Origin rate limit counter incremented",
		zap.String("origin", origin),
		zap.Int64("count", count))

	return int(count), nil
}

// SetTemporaryLock blocks an origin outright for the given duration.
func (c *RateLimitCache) SetTemporaryLock(ctx context.Context, origin string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	lockKey := tempLockPrefix + origin
	success, err := c.client.SetNX(ctx, lockKey, "locked", ttl)
	if err != nil {
		util.Error("Failed to set temporary lock",
			zap.String("origin", origin),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("failed to set temporary lock: %w", err)
	}
	if !success {
		return fmt.Errorf("temporary lock already exists for origin: %s", origin)
	}
	return nil
}

// IsLocked reports whether an origin is under a temporary lock.
func (c *RateLimitCache) IsLocked(ctx context.Context, origin string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := c.client.Exists(ctx, tempLockPrefix+origin)
	if err != nil {
		util.Error("Failed to check origin lock",
			zap.String("origin", origin),
			zap.Error(err))
		return false, fmt.Errorf("failed to check origin lock: %w", err)
	}
	return exists, nil
}
