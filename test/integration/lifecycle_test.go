// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

//go:build integration

package integration

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/keyward/keyward/internal/auth"
)

const password = "Str0ng!Pass"

var userSeq atomic.Int64

// newUser returns a username and email unique within the run.
func newUser() (string, string) {
	n := userSeq.Add(1)
	return fmt.Sprintf("user%d", n), fmt.Sprintf("user%d@example.com", n)
}

var _ = Describe("Credential lifecycle", Ordered, func() {
	var env *testEnv

	BeforeAll(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if env != nil {
			env.cleanup()
		}
	})

	register := func(username, email string) {
		resp, body, err := env.call(http.MethodPost, "/auth/register", "", map[string]string{
			"username":   username,
			"first_name": "Test",
			"last_name":  "User",
			"email":      email,
			"password":   password,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated), string(body))
	}

	login := func(identifier, pw string) (*http.Response, session, apiError) {
		resp, body, err := env.call(http.MethodPost, "/auth/login", "", map[string]string{
			"identifier": identifier,
			"password":   pw,
		})
		Expect(err).NotTo(HaveOccurred())
		var s session
		var e apiError
		if resp.StatusCode == http.StatusOK {
			Expect(json.Unmarshal(body, &s)).To(Succeed())
		} else {
			Expect(json.Unmarshal(body, &e)).To(Succeed())
		}
		return resp, s, e
	}

	Describe("register and login", func() {
		It("logs in by username or email and serves the profile", func() {
			username, email := newUser()
			register(username, email)

			resp, s, _ := login(email, password)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(s.AccessToken).NotTo(BeEmpty())
			Expect(s.Account.Username).To(Equal(username))

			resp, body, err := env.call(http.MethodGet, "/users/me", s.AccessToken, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring(email))
			Expect(string(body)).NotTo(ContainSubstring("password"))
		})

		It("rejects a duplicate username", func() {
			username, email := newUser()
			register(username, email)

			resp, body, err := env.call(http.MethodPost, "/auth/register", "", map[string]string{
				"username":   username,
				"first_name": "Other",
				"last_name":  "User",
				"email":      "other-" + email,
				"password":   password,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusConflict), string(body))
		})

		It("rejects a second login while a session is active", func() {
			username, email := newUser()
			register(username, email)
			resp, _, _ := login(username, password)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, _, e := login(username, password)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(e.Error.Kind).To(Equal(string(auth.KindAlreadyLoggedIn)))
		})
	})

	Describe("refresh", func() {
		It("rotates the pair and rejects the spent refresh token", func() {
			username, email := newUser()
			register(username, email)
			_, first, _ := login(username, password)

			resp, body, err := env.call(http.MethodPost, "/auth/refresh", "", map[string]string{
				"refresh_token": first.RefreshToken,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK), string(body))
			var second session
			Expect(json.Unmarshal(body, &second)).To(Succeed())
			Expect(second.RefreshToken).NotTo(Equal(first.RefreshToken))

			resp, _, err = env.call(http.MethodPost, "/auth/refresh", "", map[string]string{
				"refresh_token": first.RefreshToken,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

			resp, _, err = env.call(http.MethodGet, "/users/me", first.AccessToken, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("logout", func() {
		It("revokes the session", func() {
			username, email := newUser()
			register(username, email)
			_, s, _ := login(username, password)

			resp, _, err := env.call(http.MethodPost, "/auth/logout", s.AccessToken, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, _, err = env.call(http.MethodGet, "/users/me", s.AccessToken, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

			resp, _, _ = login(username, password)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("lockout", func() {
		It("locks the account after repeated failures", func() {
			username, email := newUser()
			register(username, email)

			for range auth.DefaultLockoutThreshold - 1 {
				resp, _, _ := login(username, "Wrong1!pass")
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			}
			resp, _, e := login(username, "Wrong1!pass")
			Expect(resp.StatusCode).To(Equal(http.StatusLocked))
			Expect(e.Error.Kind).To(Equal(string(auth.KindAccountLocked)))

			resp, _, e = login(username, password)
			Expect(resp.StatusCode).To(Equal(http.StatusLocked))
			Expect(e.Error.Kind).To(Equal(string(auth.KindAccountLocked)))
			Expect(resp.Header.Get("Retry-After")).NotTo(BeEmpty())
		})
	})

	Describe("password changes", func() {
		It("changes the password and refuses a recent one", func() {
			username, email := newUser()
			register(username, email)
			_, s, _ := login(username, password)

			resp, body, err := env.call(http.MethodPatch, "/users/password", s.AccessToken, map[string]string{
				"old_password": password,
				"new_password": "N3w!Passw0rd",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent), string(body))

			resp, _, _ = login(username, password)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp, s, _ = login(username, "N3w!Passw0rd")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			resp, body, err = env.call(http.MethodPatch, "/users/password", s.AccessToken, map[string]string{
				"old_password": "N3w!Passw0rd",
				"new_password": password,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			var e apiError
			Expect(json.Unmarshal(body, &e)).To(Succeed())
			Expect(e.Error.Kind).To(Equal(string(auth.KindPasswordReused)))
		})

		It("redeems an operator-issued reset token", func() {
			username, email := newUser()
			register(username, email)

			token, err := env.svc.RequestPasswordReset(env.ctx, email)
			Expect(err).NotTo(HaveOccurred())
			Expect(token).NotTo(BeEmpty())

			resp, body, err := env.call(http.MethodPost, "/auth/password-reset", "", map[string]string{
				"token":        token,
				"new_password": "R3set!Passw0rd",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent), string(body))

			resp, _, _ = login(username, "R3set!Passw0rd")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("change username", func() {
		It("moves login to the new name and refuses a taken one", func() {
			username, email := newUser()
			register(username, email)
			other, otherEmail := newUser()
			register(other, otherEmail)
			_, s, _ := login(username, password)

			resp, body, err := env.call(http.MethodPatch, "/users/username", s.AccessToken, map[string]string{
				"username": other,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusConflict), string(body))

			renamed := username + "x"
			resp, body, err = env.call(http.MethodPatch, "/users/username", s.AccessToken, map[string]string{
				"username": renamed,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK), string(body))
			Expect(string(body)).To(ContainSubstring(renamed))

			resp, _, err = env.call(http.MethodPost, "/auth/logout", s.AccessToken, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, _, _ = login(username, password)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp, _, _ = login(renamed, password)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("delete account", func() {
		It("removes the account and frees its identifiers", func() {
			username, email := newUser()
			register(username, email)
			_, s, _ := login(username, password)

			resp, _, err := env.call(http.MethodDelete, "/users/me", s.AccessToken, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp, _, _ = login(username, password)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

			register(username, email)
		})
	})
})
