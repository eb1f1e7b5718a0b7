package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAttempts counts processing attempts per key, shared by every replica
// of the consumer. Counters expire after ttl of inactivity.
type RedisAttempts struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAttempts(client *redis.Client, ttl time.Duration) *RedisAttempts {
	return &RedisAttempts{client: client, ttl: ttl}
}

func attemptsKey(key string) string {
	return "stock:attempts:" + key
}

// Incr records one more attempt and returns the new total.
func (a *RedisAttempts) Incr(ctx context.Context, key string) (int, error) {
	k := attemptsKey(key)

	pipe := a.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, a.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to count attempt: %w", err)
	}
	return int(incr.Val()), nil
}

func (a *RedisAttempts) Reset(ctx context.Context, key string) error {
	return a.client.Del(ctx, attemptsKey(key)).Err()
}
