package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterLocksAfterMax(t *testing.T) {
	c := NewMemoryCounter(3, 15*time.Minute)
	defer c.Stop()
	ctx := context.Background()

	a, err := c.Hit(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Count)
	assert.Equal(t, 2, a.Remaining)
	assert.False(t, a.Locked)

	_, _ = c.Hit(ctx, "1.2.3.4")
	a, _ = c.Hit(ctx, "1.2.3.4")
	assert.True(t, a.Locked)
	assert.Equal(t, 0, a.Remaining)
	assert.InDelta(t, (15 * time.Minute).Seconds(), a.RetryAfter.Seconds(), 1)

	peek, err := c.Peek(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, peek.Locked)
	assert.Equal(t, 3, peek.Count)

	other, _ := c.Peek(ctx, "5.6.7.8")
	assert.False(t, other.Locked)
	assert.Equal(t, 3, other.Remaining)
}

func TestMemoryCounterUnlocksAfterWindow(t *testing.T) {
	c := NewMemoryCounter(3, time.Minute)
	defer c.Stop()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = c.Hit(ctx, "ip")
	}
	a, _ := c.Peek(ctx, "ip")
	require.True(t, a.Locked)

	now = now.Add(time.Minute + time.Second)
	a, _ = c.Peek(ctx, "ip")
	assert.False(t, a.Locked)
	assert.Equal(t, 0, a.Count)

	a, _ = c.Hit(ctx, "ip")
	assert.Equal(t, 1, a.Count, "expired entry starts over")

	now = now.Add(2 * time.Minute)
	c.sweep()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCounterReset(t *testing.T) {
	c := NewMemoryCounter(2, time.Minute)
	defer c.Stop()
	ctx := context.Background()

	_, _ = c.Hit(ctx, "k")
	_, _ = c.Hit(ctx, "k")
	require.NoError(t, c.Reset(ctx, "k"))
	a, _ := c.Peek(ctx, "k")
	assert.False(t, a.Locked)
	assert.Equal(t, 2, a.Remaining)
}

func TestMemoryCounterStopTwice(t *testing.T) {
	c := NewMemoryCounter(1, time.Minute)
	c.Stop()
	c.Stop()
}

func TestRedisCounter(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, url)
	require.NoError(t, err)
	defer rdb.Close()

	c := NewRedisCounter(rdb, "test:attempts:", 2, time.Minute)
	key := uuid.NewString()
	defer c.Reset(ctx, key)

	a, err := c.Peek(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, a.Count)

	_, err = c.Hit(ctx, key)
	require.NoError(t, err)
	a, err = c.Hit(ctx, key)
	require.NoError(t, err)
	assert.True(t, a.Locked)

	a, err = c.Peek(ctx, key)
	require.NoError(t, err)
	assert.True(t, a.Locked)
	assert.Greater(t, a.RetryAfter, time.Duration(0))

	require.NoError(t, c.Reset(ctx, key))
	a, _ = c.Peek(ctx, key)
	assert.False(t, a.Locked)
}
