package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements the same fixed-window contract against Redis: the
// counter key carries the window start, so every instance sharing the Redis
// sees the same bucket.
type RedisLimiter struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, now: time.Now}
}

func (l *RedisLimiter) TryAdmit(ctx context.Context, key string, capacity int, window time.Duration, cost int) (bool, error) {
	if cost <= 0 {
		cost = 1
	}
	start := l.now().Truncate(window)
	k := fmt.Sprintf("rl:%s:%d", key, start.Unix())

	pipe := l.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, k, int64(cost))
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(capacity), nil
}
