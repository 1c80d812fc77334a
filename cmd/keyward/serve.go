// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/observability"
	keytls "github.com/keyward/keyward/internal/tls"
	"github.com/keyward/keyward/internal/web"
)

const (
	serviceName      = "keyward"
	shutdownTimeout  = 5 * time.Second
	readinessTimeout = 2 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API and observability servers",
		Long: `Start the JSON API that serves registration, login, token refresh and
account management, plus the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// newLogger installs the configured logger as the process default.
func newLogger(cfg *config.Config) *slog.Logger {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	return logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Redact:  cfg.Log.Redact,
	})
}

// newService builds the engine over accounts from cfg.
func newService(cfg *config.Config, accounts auth.AccountRepository, logger *slog.Logger) (*auth.Service, error) {
	hasher, err := auth.NewArgon2idHasher(cfg.Password.Argon2)
	if err != nil {
		return nil, err
	}
	return auth.NewService(accounts, hasher, cfg.Auth(), auth.WithLogger(logger))
}

// readiness reports ready while the store answers pings.
func readiness(accounts *AccountStore) observability.ReadinessChecker {
	return func() bool {
		if accounts.Ping == nil {
			return true
		}
		ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
		defer cancel()
		return accounts.Ping(ctx) == nil
	}
}

// runServeWithDeps runs the service with injectable dependencies until a
// signal arrives, ctx is cancelled or a server fails. If deps is nil,
// default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	logger := newLogger(cfg)

	logger.Info("starting keyward",
		"http_addr", cfg.HTTP.Addr,
		"store_driver", cfg.Store.Driver,
		"active_session_policy", cfg.Session.ActiveSessionPolicy,
	)

	accounts, err := deps.AccountStoreFactory(ctx, cfg.Store, logger)
	if err != nil {
		return oops.With("driver", cfg.Store.Driver).Wrapf(err, "open account store")
	}
	defer accounts.Close()

	svc, err := newService(cfg, accounts.Accounts, logger)
	if err != nil {
		return oops.Code("SERVICE_INIT_FAILED").Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, readiness(accounts), auth.RegisterMetrics)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	handler := web.NewHandler(svc, web.Options{
		Logger:       logger,
		Metrics:      metrics,
		CookieSecure: cfg.HTTP.CookieSecure || cfg.HTTP.TLSCertFile != "",
	}).Routes()
	serverOpts := web.ServerOptions{
		ReadTimeout:  cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
	}
	if cfg.HTTP.TLSCertFile != "" {
		if serverOpts.TLS, err = keytls.ServerConfig(cfg.HTTP.TLSCertFile, cfg.HTTP.TLSKeyFile); err != nil {
			stopServer(obsServer, "observability")
			return oops.Code("API_START_FAILED").Wrap(err)
		}
	}
	apiServer := deps.APIServerFactory(cfg.HTTP.Addr, handler, serverOpts)
	apiErrChan, err := apiServer.Start()
	if err != nil {
		stopServer(obsServer, "observability")
		return oops.Code("API_START_FAILED").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, apiErrChan, "api")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("keyward started")
	logger.Info("keyward ready", "api_addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	stopServer(apiServer, "api")
	stopServer(obsServer, "observability")
	logger.Info("shutdown complete")
	return nil
}

type stopper interface {
	Stop(ctx context.Context) error
}

func stopServer(s stopper, name string) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping server", "server", name, "error", err)
	}
}

// monitorServerErrors watches a server's error channel and cancels ctx on
// error. It returns when an error arrives, the channel closes, or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
