package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"sync-engine/configs"
)

func Open(cfg *configs.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.RedisPass,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	_ = rdb.Ping(context.Background()).Err()
	return rdb
}
