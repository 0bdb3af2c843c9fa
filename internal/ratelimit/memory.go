package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter implements a fixed-window in-memory rate limiter. Counters from
// past windows are swept whenever a new window starts.
type MemoryLimiter struct {
	mu       sync.Mutex
	window   int64
	counters map[string]int
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{counters: make(map[string]int)}
}

// Allow checks whether the request should be allowed in the current second.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()
	if sec != l.window {
		l.window = sec
		clear(l.counters)
	}
	count := l.counters[key]
	if count >= limit {
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	count++
	l.counters[key] = count
	return Result{Allowed: true, Remaining: limit - count, Reset: reset}, nil
}
