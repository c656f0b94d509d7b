package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is fixed-window admission control: capacity tokens per window,
// fully refilled at each window boundary. Denial is a value, never an error.
type Limiter interface {
	TryAdmit(ctx context.Context, key string, capacity int, window time.Duration, cost int) (bool, error)
}

type bucket struct {
	remaining   int
	windowStart time.Time
}

// MemoryLimiter keeps buckets in process memory. Admission checks for the
// same key are serialized so the last token is never granted twice.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) TryAdmit(ctx context.Context, key string, capacity int, window time.Duration, cost int) (bool, error) {
	if cost <= 0 {
		cost = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	start := now.Truncate(window)

	b, ok := l.buckets[key]
	if !ok || !b.windowStart.Equal(start) {
		b = &bucket{remaining: capacity, windowStart: start}
		l.buckets[key] = b
	}

	if b.remaining < cost {
		return false, nil
	}
	b.remaining -= cost
	return true, nil
}
