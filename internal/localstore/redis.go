package localstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis shares local storage between console instances
type Redis struct {
	rdb    *goredis.Client
	prefix string
	logger *zap.Logger
}

// NewRedis connects to addr and checks the connection
func NewRedis(ctx context.Context, addr, prefix string, logger *zap.Logger) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if prefix == "" {
		prefix = "console:"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return NewRedisWithClient(rdb, prefix, logger), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(rdb *goredis.Client, prefix string, logger *zap.Logger) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, logger: logger}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
