package kv

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "coincraze:"

// RedisStore keeps values as plain redis strings under a common prefix.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "redis get %s", key)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, redisKeyPrefix+key, value, 0).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// CachedStore wraps a primary Store with a redis read-through cache. Writes go to the
// primary first and then refresh the cache entry.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func (s *CachedStore) Get(ctx context.Context, key string) (string, bool, error) {
	if v, err := s.rdb.Get(ctx, cacheKey(key)).Result(); err == nil {
		return v, true, nil
	}

	v, ok, err := s.primary.Get(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}

	s.rdb.Set(ctx, cacheKey(key), v, s.ttl)
	return v, true, nil
}

func (s *CachedStore) Set(ctx context.Context, key, value string) error {
	if err := s.primary.Set(ctx, key, value); err != nil {
		return err
	}

	if err := s.rdb.Set(ctx, cacheKey(key), value, s.ttl).Err(); err != nil {
		// stale cache must not outlive the write
		s.rdb.Del(ctx, cacheKey(key))
	}
	return nil
}

func (s *CachedStore) Close() error {
	perr := s.primary.Close()
	if err := s.rdb.Close(); err != nil {
		return err
	}
	return perr
}

func cacheKey(key string) string {
	return redisKeyPrefix + "cache:" + key
}
