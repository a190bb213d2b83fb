package queue

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return NewRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func popID(t *testing.T, q *RedisQueue) string {
	t.Helper()
	e, ok, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	return e.JobID
}

func TestDequeueOrdersByPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "low-1", 1))
	require.NoError(t, q.Enqueue(ctx, "high-1", 5))
	require.NoError(t, q.Enqueue(ctx, "high-2", 5))
	require.NoError(t, q.Enqueue(ctx, "low-2", 1))

	require.Equal(t, "high-1", popID(t, q))
	require.Equal(t, "high-2", popID(t, q))
	require.Equal(t, "low-1", popID(t, q))
	require.Equal(t, "low-2", popID(t, q))

	_, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRequeuePreservesPosition(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "a", 3))
	require.NoError(t, q.Enqueue(ctx, "b", 3))

	e, ok, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", e.JobID)

	require.NoError(t, q.Requeue(ctx, e))
	require.Equal(t, "a", popID(t, q))
	require.Equal(t, "b", popID(t, q))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx, "a", 1))
	removed, err := q.Remove(ctx, "a")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = q.Remove(ctx, "a")
	require.NoError(t, err)
	require.False(t, removed)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}
