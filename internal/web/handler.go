// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package web exposes the credential and session flows as a JSON API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/observability"
)

// Cookie names set by login and refresh.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

// APIPrefix is the path prefix of every route.
const APIPrefix = "/api/v1"

const maxBodyBytes = 1 << 16

// AuthService is the part of *auth.Service the API drives.
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*auth.Account, error)
	Login(ctx context.Context, in auth.LoginInput) (*auth.LoginResult, error)
	Logout(ctx context.Context, accessToken string) error
	Refresh(ctx context.Context, refreshToken string) (*auth.LoginResult, error)
	ChangePassword(ctx context.Context, accessToken string, in auth.ChangePasswordInput) error
	DeleteAccount(ctx context.Context, accessToken string) error
	Profile(ctx context.Context, accessToken string) (*auth.Account, error)
	ChangeUsername(ctx context.Context, accessToken, username string) (*auth.Account, error)
	AddEmail(ctx context.Context, accessToken, email string) (*auth.Account, error)
	RemoveEmail(ctx context.Context, accessToken, email string) (*auth.Account, error)
	AddPhone(ctx context.Context, accessToken, phone string) (*auth.Account, error)
	RemovePhone(ctx context.Context, accessToken, phone string) (*auth.Account, error)
	ResetPassword(ctx context.Context, token, newPassword string) error
}

var _ AuthService = (*auth.Service)(nil)

// Options configures a Handler.
type Options struct {
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	CookieSecure bool
}

// Handler serves the API routes.
type Handler struct {
	svc          AuthService
	logger       *slog.Logger
	metrics      *observability.Metrics
	cookieSecure bool
}

// NewHandler creates a Handler over svc.
func NewHandler(svc AuthService, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:          svc,
		logger:       logger,
		metrics:      opts.Metrics,
		cookieSecure: opts.CookieSecure,
	}
}

// Routes returns the API mux. Each route is counted under its pattern.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	routes := []struct {
		pattern string
		fn      http.HandlerFunc
	}{
		{"POST " + APIPrefix + "/auth/register", h.handleRegister},
		{"POST " + APIPrefix + "/auth/login", h.handleLogin},
		{"POST " + APIPrefix + "/auth/logout", h.handleLogout},
		{"POST " + APIPrefix + "/auth/refresh", h.handleRefresh},
		{"POST " + APIPrefix + "/auth/password-reset", h.handlePasswordReset},
		{"GET " + APIPrefix + "/users/me", h.handleProfile},
		{"DELETE " + APIPrefix + "/users/me", h.handleDeleteAccount},
		{"PATCH " + APIPrefix + "/users/password", h.handleChangePassword},
		{"PATCH " + APIPrefix + "/users/username", h.handleChangeUsername},
		{"POST " + APIPrefix + "/users/emails", h.handleAddEmail},
		{"DELETE " + APIPrefix + "/users/emails/{email}", h.handleRemoveEmail},
		{"POST " + APIPrefix + "/users/phones", h.handleAddPhone},
		{"DELETE " + APIPrefix + "/users/phones/{phone}", h.handleRemovePhone},
	}
	for _, rt := range routes {
		mux.Handle(rt.pattern, h.metrics.Instrument(rt.pattern, rt.fn))
	}
	return otelhttp.NewHandler(withRequestID(mux), "keyward.api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

type accountView struct {
	ID                 string     `json:"id"`
	Username           string     `json:"username"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Emails             []string   `json:"emails"`
	Phones             []string   `json:"phones"`
	LoginCount         int        `json:"login_count"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	LastPasswordChange time.Time  `json:"last_password_change"`
	CreatedAt          time.Time  `json:"created_at"`
}

func viewOf(a *auth.Account) accountView {
	v := accountView{
		ID:                 a.ID.String(),
		Username:           a.Username,
		FirstName:          a.FirstName,
		LastName:           a.LastName,
		Emails:             a.Emails,
		Phones:             a.Phones,
		LoginCount:         a.LoginCount,
		LastLogin:          a.LastLogin,
		LastPasswordChange: a.LastPasswordChange,
		CreatedAt:          a.CreatedAt,
	}
	if v.Emails == nil {
		v.Emails = []string{}
	}
	if v.Phones == nil {
		v.Phones = []string{}
	}
	return v
}

type sessionResponse struct {
	*auth.TokenPair
	Account accountView `json:"account"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type usernameRequest struct {
	Username string `json:"username"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in auth.RegisterInput
	if !h.decode(w, r, &in) {
		return
	}
	account, err := h.svc.Register(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(account))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in auth.LoginInput
	if !h.decode(w, r, &in) {
		return
	}
	result, err := h.svc.Login(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, result)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), accessToken(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	token := req.RefreshToken
	if token == "" {
		if c, err := r.Cookie(RefreshCookie); err == nil {
			token = c.Value
		}
	}
	result, err := h.svc.Refresh(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeSession(w, result)
}

// handlePasswordReset redeems a reset token. Tokens are issued out of band by
// an operator; there is no route that hands one out.
func (h *Handler) handlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.Profile(r.Context(), accessToken(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(account))
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var in auth.ChangePasswordInput
	if !h.decode(w, r, &in) {
		return
	}
	if err := h.svc.ChangePassword(r.Context(), accessToken(r), in); err != nil {
		h.writeError(w, r, err)
		return
	}
	// The session is revoked; the client has to log in again.
	h.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteAccount(r.Context(), accessToken(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleChangeUsername(w http.ResponseWriter, r *http.Request) {
	var req usernameRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeAccount(w, r, http.StatusOK)(h.svc.ChangeUsername(r.Context(), accessToken(r), req.Username))
}

func (h *Handler) handleAddEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeAccount(w, r, http.StatusCreated)(h.svc.AddEmail(r.Context(), accessToken(r), req.Email))
}

func (h *Handler) handleRemoveEmail(w http.ResponseWriter, r *http.Request) {
	h.writeAccount(w, r, http.StatusOK)(h.svc.RemoveEmail(r.Context(), accessToken(r), r.PathValue("email")))
}

func (h *Handler) handleAddPhone(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.writeAccount(w, r, http.StatusCreated)(h.svc.AddPhone(r.Context(), accessToken(r), req.Phone))
}

func (h *Handler) handleRemovePhone(w http.ResponseWriter, r *http.Request) {
	h.writeAccount(w, r, http.StatusOK)(h.svc.RemovePhone(r.Context(), accessToken(r), r.PathValue("phone")))
}

func (h *Handler) writeAccount(w http.ResponseWriter, r *http.Request, status int) func(*auth.Account, error) {
	return func(account *auth.Account, err error) {
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, status, viewOf(account))
	}
}

func (h *Handler) writeSession(w http.ResponseWriter, result *auth.LoginResult) {
	h.setCookie(w, AccessCookie, result.Tokens.AccessToken, "/", result.Tokens.AccessExpiresAt)
	h.setCookie(w, RefreshCookie, result.Tokens.RefreshToken, APIPrefix+"/auth", result.Tokens.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, sessionResponse{TokenPair: result.Tokens, Account: viewOf(result.Account)})
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value, path string, expires time.Time) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
	if value == "" {
		c.MaxAge = -1
	} else {
		c.Expires = expires
	}
	http.SetCookie(w, c)
}

func (h *Handler) clearCookies(w http.ResponseWriter) {
	h.setCookie(w, AccessCookie, "", "/", time.Time{})
	h.setCookie(w, RefreshCookie, "", APIPrefix+"/auth", time.Time{})
}

// accessToken reads the bearer token, falling back to the access cookie.
func accessToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(AccessCookie); err == nil {
		return c.Value
	}
	return ""
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeBody(w, r, dst); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

// decodeOptional accepts an empty body and leaves dst untouched.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeBody(w, r, dst)
	if err != nil && !errors.Is(err, errEmptyBody) {
		h.writeError(w, r, err)
		return false
	}
	return true
}

var errEmptyBody = errors.New("request body is empty")

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return invalidBody(errEmptyBody)
		}
		return invalidBody(err)
	}
	if dec.More() {
		return invalidBody(errors.New("request body must hold a single JSON object"))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(body)
}

func invalidBody(err error) error {
	return auth.InvalidInput("body", err)
}
