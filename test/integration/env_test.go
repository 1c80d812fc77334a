// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	cryptotls "crypto/tls"
	"crypto/x509"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keyward/keyward/internal/auth"
	authpg "github.com/keyward/keyward/internal/auth/postgres"
	"github.com/keyward/keyward/internal/store"
	keytls "github.com/keyward/keyward/internal/tls"
	"github.com/keyward/keyward/internal/web"
)

// testEnv holds a running API server backed by a PostgreSQL container.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool
	svc       *auth.Service
	server    *web.Server
	client    *http.Client
	baseURL   string
	tmpDir    string
}

func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	env := &testEnv{ctx: ctx, cancel: cancel}

	tmpDir, err := os.MkdirTemp("", "keyward-test-*")
	if err != nil {
		cancel()
		return nil, err
	}
	env.tmpDir = tmpDir

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("keyward_test"),
		postgres.WithUsername("keyward"),
		postgres.WithPassword("keyward"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.OpenPool(ctx, connStr, store.DefaultConnectRetries, nil)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	hasher, err := auth.NewArgon2idHasher(auth.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	if err != nil {
		env.cleanup()
		return nil, err
	}
	cfg := auth.DefaultConfig()
	cfg.Tokens.AccessSecret = "integration-access-secret-0123456789abcdef"
	cfg.Tokens.RefreshSecret = "integration-refresh-secret-0123456789abcde"
	env.svc, err = auth.NewService(authpg.NewAccountRepository(env.pool), hasher, cfg)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	certsDir := filepath.Join(tmpDir, "certs")
	now := time.Now().Add(-time.Minute)
	ca, err := keytls.GenerateCA(now)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	serverCert, err := keytls.GenerateServerCert(ca, []string{"127.0.0.1"}, now)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := keytls.SaveCertificates(certsDir, ca, serverCert); err != nil {
		env.cleanup()
		return nil, err
	}
	tlsCfg, err := keytls.ServerConfig(filepath.Join(certsDir, keytls.ServerCertFile), filepath.Join(certsDir, keytls.ServerKeyFile))
	if err != nil {
		env.cleanup()
		return nil, err
	}

	handler := web.NewHandler(env.svc, web.Options{CookieSecure: true}).Routes()
	env.server = web.NewServer("127.0.0.1:0", handler, web.ServerOptions{
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		TLS:          tlsCfg,
	})
	if _, err := env.server.Start(); err != nil {
		env.cleanup()
		return nil, err
	}
	env.baseURL = "https://" + env.server.Addr() + web.APIPrefix

	roots := x509.NewCertPool()
	roots.AddCert(ca.Certificate)
	env.client = &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &cryptotls.Config{RootCAs: roots, MinVersion: cryptotls.VersionTLS12},
		},
	}
	return env, nil
}

func (e *testEnv) cleanup() {
	if e.server != nil {
		_ = e.server.Stop(context.Background())
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(context.Background())
	}
	if e.tmpDir != "" {
		_ = os.RemoveAll(e.tmpDir)
	}
	e.cancel()
}

// call sends a JSON request. A non-empty bearer is sent as the access token.
func (e *testEnv) call(method, path, bearer string, body any) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(e.ctx, method, e.baseURL+path, reader)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp, data, err
}

type session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Account      struct {
		ID       string   `json:"id"`
		Username string   `json:"username"`
		Emails   []string `json:"emails"`
	} `json:"account"`
}

type apiError struct {
	Error struct {
		Kind  string `json:"kind"`
		Field string `json:"field"`
	} `json:"error"`
}
