// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package web

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/pkg/errutil"
)

// kindStatus maps every error kind to its HTTP status. Kinds not listed are 500.
var kindStatus = map[auth.Kind]int{
	auth.KindInvalidInput:        http.StatusBadRequest,
	auth.KindPasswordReused:      http.StatusBadRequest,
	auth.KindInvalidResetToken:   http.StatusBadRequest,
	auth.KindInvalidCredentials:  http.StatusUnauthorized,
	auth.KindInvalidToken:        http.StatusUnauthorized,
	auth.KindInvalidRefreshToken: http.StatusUnauthorized,
	auth.KindAccountLocked:       http.StatusLocked,
	auth.KindAlreadyLoggedIn:     http.StatusConflict,
	auth.KindConflict:            http.StatusConflict,
	auth.KindNotFound:            http.StatusNotFound,
}

// kindMessage is the client-facing text per kind. InvalidInput carries its
// own message because it names the offending field.
var kindMessage = map[auth.Kind]string{
	auth.KindPasswordReused:      "password was used recently",
	auth.KindInvalidCredentials:  "invalid username or password",
	auth.KindInvalidToken:        "invalid or expired access token",
	auth.KindInvalidRefreshToken: "invalid or expired refresh token",
	auth.KindInvalidResetToken:   "invalid or expired reset token",
	auth.KindAccountLocked:       "account is temporarily locked",
	auth.KindAlreadyLoggedIn:     "account already has an active session",
	auth.KindConflict:            "username, email or phone already in use",
	auth.KindNotFound:            "not found",
	auth.KindInternal:            "internal error",
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	if status, ok := kindStatus[auth.KindOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    auth.Kind `json:"kind"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
}

func newErrorBody(err error) errorBody {
	kind := auth.KindOf(err)
	detail := errorDetail{Kind: kind, Message: kindMessage[kind]}
	if kind == auth.KindInvalidInput {
		detail.Message = err.Error()
		if field, ok := contextValue(err, "field").(string); ok {
			detail.Field = field
		}
	}
	if detail.Message == "" {
		detail.Message = kindMessage[auth.KindInternal]
	}
	return errorBody{Error: detail}
}

func contextValue(err error, key string) any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	return oopsErr.Context()[key]
}

// retryAfter returns the lockout remainder in whole seconds, rounded up.
func retryAfter(err error) (string, bool) {
	d, ok := contextValue(err, "retry_after").(time.Duration)
	if !ok || d <= 0 {
		return "", false
	}
	return strconv.Itoa(int(math.Ceil(d.Seconds()))), true
}

// writeError renders err as the JSON error body. Internal failures are logged
// with their oops context; client errors are not.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	switch auth.KindOf(err) {
	case auth.KindAccountLocked:
		if secs, ok := retryAfter(err); ok {
			w.Header().Set("Retry-After", secs)
		}
	case auth.KindInvalidToken, auth.KindInvalidRefreshToken:
		w.Header().Set("WWW-Authenticate", `Bearer realm="keyward"`)
	case auth.KindInternal:
		errutil.LogErrorContext(r.Context(), h.logger, "request failed", err,
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestID(r.Context())))
	}
	writeJSON(w, status, newErrorBody(err))
}
