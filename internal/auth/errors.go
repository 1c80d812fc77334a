// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Store sentinels. Repository implementations wrap these so the service can
// classify failures with errors.Is.
var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write would violate a uniqueness constraint.
	ErrConflict = errors.New("conflict")

	// ErrStaleAccount is returned by Update when the stored version no longer
	// matches the version the caller loaded.
	ErrStaleAccount = errors.New("stale account version")
)

// Kind classifies a failure for callers. Every error returned by Service
// resolves to exactly one Kind via KindOf.
type Kind string

// Error kinds. The string values double as oops error codes.
const (
	KindInternal            Kind = "AUTH_INTERNAL"
	KindInvalidInput        Kind = "AUTH_INVALID_INPUT"
	KindInvalidCredentials  Kind = "AUTH_INVALID_CREDENTIALS"
	KindAccountLocked       Kind = "AUTH_ACCOUNT_LOCKED"
	KindAlreadyLoggedIn     Kind = "AUTH_ALREADY_LOGGED_IN"
	KindInvalidToken        Kind = "AUTH_INVALID_TOKEN"
	KindInvalidRefreshToken Kind = "AUTH_INVALID_REFRESH_TOKEN"
	KindInvalidResetToken   Kind = "AUTH_INVALID_RESET_TOKEN"
	KindPasswordReused      Kind = "AUTH_PASSWORD_REUSED"
	KindNotFound            Kind = "AUTH_NOT_FOUND"
	KindConflict            Kind = "AUTH_CONFLICT"
)

var knownKinds = map[string]Kind{
	string(KindInvalidInput):        KindInvalidInput,
	string(KindInvalidCredentials):  KindInvalidCredentials,
	string(KindAccountLocked):       KindAccountLocked,
	string(KindAlreadyLoggedIn):     KindAlreadyLoggedIn,
	string(KindInvalidToken):        KindInvalidToken,
	string(KindInvalidRefreshToken): KindInvalidRefreshToken,
	string(KindInvalidResetToken):   KindInvalidResetToken,
	string(KindPasswordReused):      KindPasswordReused,
	string(KindNotFound):            KindNotFound,
	string(KindConflict):            KindConflict,
}

// KindOf resolves the Kind of err. Errors carrying one of the kind codes map
// directly; bare store sentinels map to NotFound and Conflict; everything
// else is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		if kind, found := knownKinds[fmt.Sprint(oopsErr.Code())]; found {
			return kind
		}
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// IsKind reports whether err resolves to kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

func errInvalidInput(field, format string, args ...any) error {
	return oops.Code(string(KindInvalidInput)).With("field", field).Errorf(format, args...)
}

func errInvalidCredentials() error {
	return oops.Code(string(KindInvalidCredentials)).Errorf("invalid username or password")
}

func errInvalidToken(kind TokenKind) error {
	if kind == RefreshToken {
		return oops.Code(string(KindInvalidRefreshToken)).Errorf("invalid refresh token")
	}
	return oops.Code(string(KindInvalidToken)).Errorf("invalid access token")
}

func errInvalidResetToken() error {
	return oops.Code(string(KindInvalidResetToken)).Errorf("invalid or expired reset token")
}

// InvalidInput wraps a malformed-request failure detected outside the
// service, such as an undecodable body, as an InvalidInput error.
func InvalidInput(field string, cause error) error {
	return oops.Code(string(KindInvalidInput)).With("field", field).Wrapf(cause, "invalid %s", field)
}
