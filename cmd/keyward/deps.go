// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/observability"
	"github.com/keyward/keyward/internal/store"
	"github.com/keyward/keyward/internal/web"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// AccountStoreFactory opens the configured account store.
	// Default: openAccountStore
	AccountStoreFactory func(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*AccountStore, error)

	// APIServerFactory creates the public API server.
	// Default: web.NewServer
	APIServerFactory func(addr string, handler http.Handler, opts web.ServerOptions) APIServer

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, register ...observability.RegisterFunc) ObservabilityServer
}

// MigrateDeps contains injectable dependencies for the migrate command.
type MigrateDeps struct {
	// MigratorFactory opens a migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)
}

// AccountStore is an opened account repository with its health check and
// cleanup. Ping is nil for stores that are always ready.
type AccountStore struct {
	Accounts auth.AccountRepository
	Ping     func(ctx context.Context) error
	Close    func()
}

// APIServer wraps the methods used from web.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (*store.MigrationStatus, error)
	Close() error
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	if d == nil {
		d = &ServeDeps{}
	}
	if d.AccountStoreFactory == nil {
		d.AccountStoreFactory = openAccountStore
	}
	if d.APIServerFactory == nil {
		d.APIServerFactory = func(addr string, handler http.Handler, opts web.ServerOptions) APIServer {
			return web.NewServer(addr, handler, opts)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, register ...observability.RegisterFunc) ObservabilityServer {
			return observability.NewServer(addr, ready, register...)
		}
	}
	return d
}

func (d *MigrateDeps) withDefaults() *MigrateDeps {
	if d == nil {
		d = &MigrateDeps{}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	return d
}
