// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package redisstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// dialBackoff is the first ping retry delay. It doubles per attempt.
var dialBackoff = 250 * time.Millisecond

// ClientOptions addresses a single Redis server.
type ClientOptions struct {
	Addr     string
	Password string
	DB       int
}

// Dial connects to Redis and pings until the server answers or retries are
// exhausted.
func Dial(ctx context.Context, opts ClientOptions, retries uint64, logger *slog.Logger) (*redis.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	attempt := 0
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(dialBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not ready", "attempt", attempt, "addr", opts.Addr, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		_ = client.Close() //nolint:errcheck // the dial error is the one worth reporting
		return nil, oops.Code("REDIS_CONNECT_FAILED").
			With("addr", opts.Addr).
			With("retries", retries).
			Wrap(err)
	}
	return client, nil
}
