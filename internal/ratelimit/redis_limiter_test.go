package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeOriginStore struct {
	counts     map[string]int
	locks      map[string]time.Duration
	incrErr    error
	lockErr    error
	isLockFail error
}

func newFakeOriginStore() *fakeOriginStore {
	return &fakeOriginStore{
		counts: make(map[string]int),
		locks:  make(map[string]time.Duration),
	}
}

func (s *fakeOriginStore) IncrementOriginCounter(ctx context.Context, origin string, window time.Duration) (int, error) {
	if s.incrErr != nil {
		return 0, s.incrErr
	}
	s.counts[origin]++
	return s.counts[origin], nil
}

func (s *fakeOriginStore) SetTemporaryLock(ctx context.Context, origin string, ttl time.Duration) error {
	if s.lockErr != nil {
		return s.lockErr
	}
	s.locks[origin] = ttl
	return nil
}

func (s *fakeOriginStore) IsLocked(ctx context.Context, origin string) (bool, error) {
	if s.isLockFail != nil {
		return false, s.isLockFail
	}
	_, locked := s.locks[origin]
	return locked, nil
}

func TestRedisLimiterAdmitsWithinLimit(t *testing.T) {
	store := newFakeOriginStore()
	limiter := NewRedisLimiter(store, 120*time.Second, 10)

	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Admit("10.0.0.5"), "request %d should be admitted", i+1)
	}
	assert.False(t, limiter.Admit("10.0.0.5"))
}

func TestRedisLimiterLocksHammeringOrigin(t *testing.T) {
	store := newFakeOriginStore()
	limiter := NewRedisLimiter(store, 120*time.Second, 10)

	// Exhaust the window, then keep hammering to twice the limit
	for i := 0; i < 20; i++ {
		limiter.Admit("10.0.0.5")
	}

	assert.Equal(t, 120*time.Second, store.locks["10.0.0.5"])

	// Once locked, rejections no longer touch the counter
	before := store.counts["10.0.0.5"]
	assert.False(t, limiter.Admit("10.0.0.5"))
	assert.Equal(t, before, store.counts["10.0.0.5"])
}

func TestRedisLimiterLockAttemptedOnce(t *testing.T) {
	store := newFakeOriginStore()
	store.lockErr = errors.New("lock exists")
	limiter := NewRedisLimiter(store, time.Minute, 5)

	for i := 0; i < 12; i++ {
		limiter.Admit("10.0.0.5")
	}

	// The failed lock never blocks requests beyond the window semantics
	assert.Equal(t, 12, store.counts["10.0.0.5"])
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	store := newFakeOriginStore()
	store.incrErr = errors.New("redis down")
	limiter := NewRedisLimiter(store, time.Minute, 1)

	assert.True(t, limiter.Admit("10.0.0.5"))
	assert.True(t, limiter.Admit("10.0.0.5"))
}

func TestRedisLimiterLockCheckFailureStillCounts(t *testing.T) {
	store := newFakeOriginStore()
	store.isLockFail = errors.New("redis down")
	limiter := NewRedisLimiter(store, time.Minute, 2)

	assert.True(t, limiter.Admit("10.0.0.5"))
	assert.True(t, limiter.Admit("10.0.0.5"))
	assert.False(t, limiter.Admit("10.0.0.5"))
}
