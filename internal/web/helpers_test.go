// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/auth/memstore"
	"github.com/keyward/keyward/internal/web"
)

const testPassword = "Str0ng!Pass"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// newFakeClock starts at the current time so cookie expiry, which clients
// judge by the wall clock, stays in the future.
func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testingT interface {
	require.TestingT
	Helper()
}

// newService builds a real service over the in-memory store with cheap
// argon2 parameters.
func newService(t testingT, clock *fakeClock) *auth.Service {
	t.Helper()
	hasher, err := auth.NewArgon2idHasher(auth.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	require.NoError(t, err)
	cfg := auth.DefaultConfig()
	cfg.Tokens.AccessSecret = "access-secret-0123456789abcdefghijklmnop"
	cfg.Tokens.RefreshSecret = "refresh-secret-0123456789abcdefghijklmno"
	svc, err := auth.NewService(memstore.New(), hasher, cfg, auth.WithClock(clock.Now))
	require.NoError(t, err)
	return svc
}

type apiClient struct {
	t       *testing.T
	svc     *auth.Service
	handler http.Handler
}

func newAPI(t *testing.T, clock *fakeClock) *apiClient {
	t.Helper()
	svc := newService(t, clock)
	return &apiClient{t: t, svc: svc, handler: web.NewHandler(svc, web.Options{}).Routes()}
}

type response struct {
	*httptest.ResponseRecorder
}

func (r response) JSON() map[string]any {
	var body map[string]any
	if err := json.Unmarshal(r.Body.Bytes(), &body); err != nil {
		return nil
	}
	return body
}

func (r response) ErrorKind() string {
	errObj, _ := r.JSON()["error"].(map[string]any)
	kind, _ := errObj["kind"].(string)
	return kind
}

func (r response) Cookie(name string) *http.Cookie {
	for _, c := range r.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (c *apiClient) do(method, path string, body any, token string) response {
	c.t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, ok := body.(string)
		if !ok {
			data, err := json.Marshal(body)
			require.NoError(c.t, err)
			raw = string(data)
		}
		reader = bytes.NewBufferString(raw)
	}
	req := httptest.NewRequest(method, web.APIPrefix+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return response{rec}
}

func (c *apiClient) register(username, email string) response {
	c.t.Helper()
	return c.do(http.MethodPost, "/auth/register", map[string]string{
		"username":   username,
		"first_name": "Alice",
		"last_name":  "Liddell",
		"email":      email,
		"password":   testPassword,
	}, "")
}

func (c *apiClient) login(identifier, password string) response {
	c.t.Helper()
	return c.do(http.MethodPost, "/auth/login", map[string]string{
		"identifier": identifier,
		"password":   password,
	}, "")
}

// session registers alice and logs in, returning the access and refresh tokens.
func (c *apiClient) session() (string, string) {
	c.t.Helper()
	require.Equal(c.t, http.StatusCreated, c.register("alice", "alice@example.com").Code)
	res := c.login("alice", testPassword)
	require.Equal(c.t, http.StatusOK, res.Code, res.Body.String())
	body := res.JSON()
	return body["access_token"].(string), body["refresh_token"].(string)
}
