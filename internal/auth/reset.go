// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes = 32 // 64 hex chars after the account ID
	DefaultResetTTL = time.Hour
)

// newResetToken creates a reset token for the account and the digest to store.
// The token is "<account id>.<hex secret>" so redemption needs no index on
// the digest.
func newResetToken(id ulid.ULID) (token, digest string, err error) {
	secret := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(secret); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = id.String() + "." + hex.EncodeToString(secret)
	return token, HashToken(token), nil
}

// parseResetToken extracts the account ID from a reset token. The secret part
// is checked only for shape; its digest is compared by the caller.
func parseResetToken(token string) (ulid.ULID, bool) {
	idPart, secret, found := strings.Cut(token, ".")
	if !found || len(secret) != 2*ResetTokenBytes {
		return ulid.ULID{}, false
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return ulid.ULID{}, false
	}
	id, err := ulid.ParseStrict(idPart)
	if err != nil {
		return ulid.ULID{}, false
	}
	return id, true
}

// resetValid reports whether token matches the account's outstanding reset
// request and has not expired at now.
func (a *Account) resetValid(token string, now time.Time) bool {
	if a.ResetExpiresAt == nil || !now.Before(*a.ResetExpiresAt) {
		return false
	}
	return TokenMatches(token, a.ResetTokenHash)
}

// ClearReset discards any outstanding reset request.
func (a *Account) ClearReset() {
	a.ResetTokenHash = ""
	a.ResetExpiresAt = nil
}
