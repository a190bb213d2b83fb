// Package queue holds the durable ready queue. Jobs wait in a Redis sorted
// set scored by priority-then-sequence, so the pop order is priority
// descending with FIFO ties, and queued work survives a process restart.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey = "queue:ready"
	seqKey   = "queue:seq"

	// prioritySpan separates priority bands in the ZSET score. Exact float64
	// arithmetic holds for priorities up to ~1e6 and a sequence up to 1e9.
	prioritySpan = 1e9
)

// Entry is one queued job reference. Score is kept so a popped entry can be
// pushed back without losing its position.
type Entry struct {
	JobID string
	Score float64
}

// RedisQueue coordinates the ready set and its sequence counter.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue builds a queue over an existing Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Enqueue inserts a job into the ready set. Higher priority pops first;
// equal priorities pop in enqueue order.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, priority int) error {
	seq, err := q.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return fmt.Errorf("next queue sequence: %w", err)
	}
	score := -float64(priority)*prioritySpan + float64(seq)
	if err := q.client.ZAdd(ctx, readyKey, redis.Z{Score: score, Member: jobID}).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Dequeue pops the highest-priority entry. ok is false when the set is empty.
func (q *RedisQueue) Dequeue(ctx context.Context) (Entry, bool, error) {
	res, err := q.client.ZPopMin(ctx, readyKey, 1).Result()
	if errors.Is(err, redis.Nil) || len(res) == 0 {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("dequeue: %w", err)
	}
	jobID, ok := res[0].Member.(string)
	if !ok {
		return Entry{}, false, fmt.Errorf("unexpected member type %T", res[0].Member)
	}
	return Entry{JobID: jobID, Score: res[0].Score}, true, nil
}

// Requeue puts a popped entry back with its original score, preserving its
// place in line. Used when the job's tenant is at its concurrency bound.
func (q *RedisQueue) Requeue(ctx context.Context, e Entry) error {
	if err := q.client.ZAdd(ctx, readyKey, redis.Z{Score: e.Score, Member: e.JobID}).Err(); err != nil {
		return fmt.Errorf("requeue job %s: %w", e.JobID, err)
	}
	return nil
}

// Remove drops a job from the ready set. Returns true when the job was
// actually queued.
func (q *RedisQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	n, err := q.client.ZRem(ctx, readyKey, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("remove job %s: %w", jobID, err)
	}
	return n > 0, nil
}

// Depth returns the number of queued jobs.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
