// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package web_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/web"
)

type lifecycleClient struct {
	base   string
	client *http.Client
}

func (c *lifecycleClient) post(path string, body any) (*http.Response, map[string]any) {
	GinkgoHelper()
	data, err := json.Marshal(body)
	Expect(err).NotTo(HaveOccurred())
	resp, err := c.client.Post(c.base+web.APIPrefix+path, "application/json", bytes.NewReader(data))
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func errorKind(body map[string]any) string {
	errObj, _ := body["error"].(map[string]any)
	kind, _ := errObj["kind"].(string)
	return kind
}

var _ = Describe("Session lifecycle over HTTP", Ordered, func() {
	var (
		clock  *fakeClock
		server *httptest.Server
		alice  *lifecycleClient
	)

	BeforeAll(func() {
		clock = newFakeClock()
		handler := web.NewHandler(newService(GinkgoT(), clock), web.Options{}).Routes()
		server = httptest.NewServer(handler)
		DeferCleanup(server.Close)

		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		alice = &lifecycleClient{base: server.URL, client: &http.Client{Jar: jar}}
	})

	var firstRefresh string

	It("registers without issuing tokens", func() {
		resp, body := alice.post("/auth/register", map[string]string{
			"username": "alice", "first_name": "Alice", "last_name": "Liddell",
			"email": "alice@example.com", "password": testPassword,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		Expect(body).NotTo(HaveKey("access_token"))
		Expect(resp.Cookies()).To(BeEmpty())
	})

	It("logs in and stores the session cookies", func() {
		resp, body := alice.post("/auth/login", map[string]string{
			"identifier": "alice@example.com", "password": testPassword,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		firstRefresh, _ = body["refresh_token"].(string)
		Expect(firstRefresh).NotTo(BeEmpty())
		Expect(resp.Cookies()).To(ContainElement(HaveField("Name", web.AccessCookie)))
	})

	It("rotates the refresh token from the cookie", func() {
		clock.Advance(time.Second)
		resp, body := alice.post("/auth/refresh", map[string]string{})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(body["refresh_token"]).NotTo(Equal(firstRefresh))
	})

	It("rejects the rotated-out refresh token", func() {
		resp, body := alice.post("/auth/refresh", map[string]string{"refresh_token": firstRefresh})
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(errorKind(body)).To(Equal(string(auth.KindInvalidRefreshToken)))
	})

	It("locks the account after repeated wrong passwords", func() {
		stranger := &lifecycleClient{base: server.URL, client: http.DefaultClient}
		wrong := map[string]string{"identifier": "alice", "password": "Wr0ng!Pass"}
		for range auth.DefaultLockoutThreshold - 1 {
			resp, body := stranger.post("/auth/login", wrong)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(errorKind(body)).To(Equal(string(auth.KindInvalidCredentials)))
		}
		resp, body := stranger.post("/auth/login", wrong)
		Expect(resp.StatusCode).To(Equal(http.StatusLocked))

		resp, body = stranger.post("/auth/login", map[string]string{
			"identifier": "alice", "password": testPassword,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusLocked))
		Expect(errorKind(body)).To(Equal(string(auth.KindAccountLocked)))
		Expect(resp.Header.Get("Retry-After")).NotTo(BeEmpty())
	})

	It("unlocks lazily once the lock expires", func() {
		clock.Advance(auth.DefaultLockoutDuration + time.Second)
		resp, _ := alice.post("/auth/logout", nil)
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

		resp, _ = alice.post("/auth/login", map[string]string{
			"identifier": "alice", "password": testPassword,
		})
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
