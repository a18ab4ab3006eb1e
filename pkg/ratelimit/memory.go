package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type window struct {
	start time.Time
	count int
}

// MemoryLimiter keeps at most capacity windows in process memory. When full,
// the least recently seen key is evicted.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	period  time.Duration
	windows *expirable.LRU[string, *window]
	now     func() time.Time
}

func NewMemoryLimiter(limit int, period time.Duration, capacity int) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		period:  period,
		windows: expirable.NewLRU[string, *window](capacity, nil, period),
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows.Get(key)
	if !ok || now.Sub(w.start) >= l.period {
		l.windows.Add(key, &window{start: now, count: 1})
		return l.limit > 0, nil
	}

	w.count++
	return w.count <= l.limit, nil
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	return l.windows.Len()
}
