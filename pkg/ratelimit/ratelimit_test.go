package ratelimit

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(2, time.Minute, 10)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false, false} {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i)
	}

	ok, err := l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok, "other keys have their own window")

	now = now.Add(time.Minute)
	ok, err = l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok, "window resets after the period")
}

func TestMemoryLimiter_BoundedCapacity(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute, 3)

	for i := 0; i < 100; i++ {
		_, err := l.Allow(context.Background(), fmt.Sprintf("10.0.0.%d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, l.Len())
}

func TestRedisLimiter(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	l := NewRedisLimiter(client, fmt.Sprintf("test:%d", time.Now().UnixNano()), 2, time.Hour)
	ctx := context.Background()

	allowed := 0
	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		if ok {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 2)
}
