package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryLimiterFixedWindow(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(120*time.Second, 10)
	limiter.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Admit("10.0.0.5"), "request %d should be admitted", i+1)
	}
	assert.False(t, limiter.Admit("10.0.0.5"), "request over the limit should be rejected")
	assert.False(t, limiter.Admit("10.0.0.5"))

	// A fresh window opens once the previous one has fully elapsed
	current = current.Add(120 * time.Second)
	assert.True(t, limiter.Admit("10.0.0.5"))
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewMemoryLimiter(time.Minute, 2)

	assert.True(t, limiter.Admit("a"))
	assert.True(t, limiter.Admit("a"))
	assert.False(t, limiter.Admit("a"))

	assert.True(t, limiter.Admit("b"))
	assert.True(t, limiter.Admit("b"))
}

func TestMemoryLimiterPartialWindowStillRejects(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(120*time.Second, 2)
	limiter.now = func() time.Time { return current }

	assert.True(t, limiter.Admit("k"))
	assert.True(t, limiter.Admit("k"))

	// Window anchors to the first request, not the last
	current = current.Add(119 * time.Second)
	assert.False(t, limiter.Admit("k"))

	current = current.Add(time.Second)
	assert.True(t, limiter.Admit("k"))
}

func TestMemoryLimiterSweep(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewMemoryLimiter(time.Minute, 5)
	limiter.now = func() time.Time { return current }

	limiter.Admit("stale")
	current = current.Add(30 * time.Second)
	limiter.Admit("fresh")

	current = current.Add(31 * time.Second)
	limiter.Sweep()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.records, "stale")
	assert.Contains(t, limiter.records, "fresh")
}

func TestMemoryLimiterConcurrentAdmits(t *testing.T) {
	limiter := NewMemoryLimiter(time.Minute, 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Admit("shared") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, admitted)
}
