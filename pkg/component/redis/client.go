// Package redis creates go-redis clients from options.
package redis

import (
	"context"

	goredis "github.com/redis/go-redis/v9"

	options "github.com/kart-io/policy-watcher/pkg/options/redis"
	"github.com/kart-io/policy-watcher/pkg/utils/errors"
)

// New creates a Redis client and verifies it with PING. The client is
// closed again if the ping fails.
func New(ctx context.Context, opts *options.Options) (*goredis.Client, error) {
	if opts == nil {
		return nil, errors.ErrInvalidParam.WithMessage("redis options cannot be nil")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:         opts.Addr(),
		Password:     opts.Password,
		DB:           opts.Database,
		MaxRetries:   opts.MaxRetries,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolTimeout:  opts.PoolTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.ErrNetwork.WithMessagef("failed to ping redis at %s", opts.Addr()).WithCause(err)
	}

	return rdb, nil
}
