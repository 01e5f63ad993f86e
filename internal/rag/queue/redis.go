package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// redisQueue is a Redis list based Queue. LPUSH producers, BRPOP consumers,
// so jobs come out in FIFO order and survive process restarts.
type redisQueue struct {
	client *goredis.Client
	key    string
}

var _ Queue = (*redisQueue)(nil)

// NewRedisQueue creates a Queue on a Redis list.
func NewRedisQueue(client *goredis.Client, key string) Queue {
	return &redisQueue{client: client, key: key}
}

func (q *redisQueue) Enqueue(ctx context.Context, documentID string) error {
	if err := q.client.LPush(ctx, q.key, documentID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue ingestion job: %w", err)
	}
	return nil
}

func (q *redisQueue) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	vals, err := q.client.BRPop(ctx, wait, q.key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to dequeue ingestion job: %w", err)
	}
	// BRPOP returns [key, value].
	if len(vals) != 2 {
		return "", nil
	}
	return vals[1], nil
}

func (q *redisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
