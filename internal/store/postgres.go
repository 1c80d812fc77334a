// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package store owns the PostgreSQL schema and connection pool that back
// the account repository.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultConnectRetries bounds how many times OpenPool re-pings a database
// that is still starting.
const DefaultConnectRetries = 5

// connectBackoff is the first ping retry delay. It doubles per attempt.
var connectBackoff = 250 * time.Millisecond

// pinger is the part of *pgxpool.Pool OpenPool pings.
type pinger interface {
	Ping(ctx context.Context) error
}

// OpenPool connects to databaseURL and pings until the server answers or
// retries are exhausted.
func OpenPool(ctx context.Context, databaseURL string, retries uint64, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("host", cfg.ConnConfig.Host).
			Wrap(err)
	}
	if err := waitReady(ctx, pool, retries, logger); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("host", cfg.ConnConfig.Host).
			With("retries", retries).
			Wrap(err)
	}
	return pool, nil
}

func waitReady(ctx context.Context, db pinger, retries uint64, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	attempt := 0
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(connectBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := db.Ping(ctx); err != nil {
			logger.Warn("database not ready", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}
