package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, capacity int, refill float64) *TenantLimiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewTenantLimiter(client, capacity, refill, time.Minute)
}

func TestTenantLimiterCapacity(t *testing.T) {
	ctx := context.Background()
	l := newLimiter(t, 2, 1)

	allowed, _, err := l.Allow(ctx, "t1")
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, _, err = l.Allow(ctx, "t1")
	require.NoError(t, err)
	require.True(t, allowed)
	allowed, _, err = l.Allow(ctx, "t1")
	require.NoError(t, err)
	require.False(t, allowed)

	// Note: refill cannot be tested with miniredis.FastForward() because the
	// Lua script takes its clock from Go's time.Now(), not Redis.
}

func TestTenantLimiterKeysAreScoped(t *testing.T) {
	ctx := context.Background()
	l := newLimiter(t, 1, 1)

	allowed, _, err := l.Allow(ctx, "t1")
	require.NoError(t, err)
	require.True(t, allowed)

	// Draining t1 leaves t2's bucket full.
	allowed, _, err = l.Allow(ctx, "t2")
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestTenantLimiterWeightedCost(t *testing.T) {
	ctx := context.Background()
	l := newLimiter(t, 5, 1)

	// A bulk submission of 4 children takes 4 tokens at once.
	allowed, remaining, err := l.AllowN(ctx, "t1", 4)
	require.NoError(t, err)
	require.True(t, allowed)
	require.InDelta(t, 1, remaining, 0.01)

	// The next bulk of 4 does not fit and takes nothing.
	allowed, remaining, err = l.AllowN(ctx, "t1", 4)
	require.NoError(t, err)
	require.False(t, allowed)
	require.InDelta(t, 1, remaining, 0.01)

	allowed, _, err = l.Allow(ctx, "t1")
	require.NoError(t, err)
	require.True(t, allowed)
}
