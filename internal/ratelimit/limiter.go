// Package ratelimit guards the evaluation entry point against request floods
// from a single origin. The default limiter keeps fixed-window counters in
// process memory; the Redis-backed one shares counters across processes.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits or rejects a request from an origin. Implementations never
// return an error: a limiter always resolves to allow or deny.
type Limiter interface {
	Admit(originKey string) bool
}

type record struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter is a fixed-window counter per origin key, local to the
// serving process. Horizontal scaling multiplies the effective limit; that is
// a documented property of this implementation, not a bug.
type MemoryLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	records map[string]*record
}

func NewMemoryLimiter(window time.Duration, limit int) *MemoryLimiter {
	return &MemoryLimiter{
		window:  window,
		limit:   limit,
		now:     time.Now,
		records: make(map[string]*record),
	}
}

// Admit reports whether the request fits in the origin's current window. On
// the first request for a key, or once the window has elapsed since its
// start, the count resets to 1 and a new window opens.
func (l *MemoryLimiter) Admit(originKey string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[originKey]
	if !ok || now.Sub(rec.windowStart) >= l.window {
		l.records[originKey] = &record{count: 1, windowStart: now}
		return true
	}

	rec.count++
	return rec.count <= l.limit
}

// Sweep drops records whose window expired, bounding memory on long runs.
func (l *MemoryLimiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, rec := range l.records {
		if now.Sub(rec.windowStart) >= l.window {
			delete(l.records, key)
		}
	}
}

// StartSweeper sweeps expired windows on an interval until stop is closed.
func (l *MemoryLimiter) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Sweep()
			case <-stop:
				return
			}
		}
	}()
}
