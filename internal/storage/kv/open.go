package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vadiminshakov/coincraze/pkg/retrier"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendWAL      = "wal"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	Path        string
	RedisURL    string
	PostgresDSN string
	// CacheTTL enables the redis read-through cache in front of postgres when RedisURL is set.
	CacheTTL time.Duration
}

// Open creates the configured store. Network backends are pinged with retries.
func Open(ctx context.Context, opts Options, r *retrier.Retrier) (Store, error) {
	if r == nil {
		r = retrier.New()
	}

	switch opts.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case "", BackendFile:
		return NewFileStore(opts.Path)
	case BackendWAL:
		return NewWALStore(opts.Path)
	case BackendRedis:
		rdb, err := openRedis(ctx, opts.RedisURL, r)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(rdb), nil
	case BackendPostgres:
		pool, err := retrier.DoWithData(r, ctx, func(ctx context.Context) (*pgxpool.Pool, error) {
			pool, err := pgxpool.New(ctx, opts.PostgresDSN)
			if err != nil {
				return nil, err
			}
			if err := pool.Ping(ctx); err != nil {
				pool.Close()
				return nil, err
			}
			return pool, nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "connect postgres")
		}

		pg := NewPostgresStore(pool, pool.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}

		if opts.RedisURL == "" {
			return pg, nil
		}
		rdb, err := openRedis(ctx, opts.RedisURL, r)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return NewCachedStore(pg, rdb, opts.CacheTTL), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", opts.Backend)
	}
}

func openRedis(ctx context.Context, url string, r *retrier.Retrier) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid redis url")
	}

	rdb := redis.NewClient(opt)
	if err := r.Do(ctx, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}); err != nil {
		rdb.Close()
		return nil, errors.Wrap(err, "connect redis")
	}

	return rdb, nil
}
