package feedcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps one JSON-encoded entry per user under a TTL'd key, so
// Redis itself acts as the reaper.
type RedisStore struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func key(userID string) string { return fmt.Sprintf("feed:%s", userID) }

func (s *RedisStore) Get(ctx context.Context, userID string) (*Entry, bool, error) {
	raw, err := s.rdb.Get(ctx, key(userID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, err
	}
	// TTL expiry and the entry's own deadline can disagree by a tick;
	// the entry's deadline wins.
	if !s.now().Before(e.ExpiresAt) {
		return nil, false, nil
	}
	return &e, true, nil
}

func (s *RedisStore) Put(ctx context.Context, entry *Entry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ttl := entry.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, key(entry.UserID), b, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	return s.rdb.Del(ctx, key(userID)).Err()
}
