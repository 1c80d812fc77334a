// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth/memstore"
	"github.com/keyward/keyward/internal/auth/postgres"
	"github.com/keyward/keyward/internal/auth/redisstore"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/store"
)

// openAccountStore opens the store selected by cfg.Driver, waiting for the
// backing server when there is one.
func openAccountStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*AccountStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using the in-memory account store; accounts are lost on restart")
		return &AccountStore{Accounts: memstore.New(), Close: func() {}}, nil

	case config.DriverPostgres:
		pool, err := store.OpenPool(ctx, cfg.DatabaseURL, cfg.ConnectRetries, logger)
		if err != nil {
			return nil, err
		}
		return &AccountStore{
			Accounts: postgres.NewAccountRepository(pool),
			Ping:     pool.Ping,
			Close:    pool.Close,
		}, nil

	case config.DriverRedis:
		client, err := redisstore.Dial(ctx, redisstore.ClientOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.ConnectRetries, logger)
		if err != nil {
			return nil, err
		}
		return &AccountStore{
			Accounts: redisstore.New(client, cfg.RedisKeyPrefix),
			Ping:     func(ctx context.Context) error { return client.Ping(ctx).Err() },
			Close: func() {
				if err := client.Close(); err != nil {
					logger.Warn("error closing redis client", "error", err)
				}
			},
		}, nil
	}
	return nil, oops.Code("CONFIG_INVALID").
		With("driver", cfg.Driver).
		Errorf("unknown store driver")
}
