// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Principal is a verified identity: the token's claims and the live account
// they resolve to.
type Principal struct {
	Claims  *Claims
	Account *Account
}

// TokenVerifier validates presented tokens. It is the only gate in front of
// operations that require an authenticated identity.
type TokenVerifier struct {
	issuer   *TokenIssuer
	accounts AccountRepository
}

// NewTokenVerifier creates a TokenVerifier sharing the issuer's keys.
func NewTokenVerifier(issuer *TokenIssuer, accounts AccountRepository) (*TokenVerifier, error) {
	if issuer == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	return &TokenVerifier{issuer: issuer, accounts: accounts}, nil
}

// Verify checks, in order, the signature against the key for kind, the expiry
// and issuer, and liveness: the subject must be an existing account whose
// stored digest of that kind matches the token. Any failure yields
// InvalidToken for access tokens and InvalidRefreshToken for refresh tokens.
// Store failures other than NotFound are returned as internal errors.
func (v *TokenVerifier) Verify(ctx context.Context, token string, kind TokenKind) (*Principal, error) {
	if token == "" {
		return nil, errInvalidToken(kind)
	}

	claims, err := v.issuer.parse(token, kind)
	if err != nil {
		return nil, oops.Code(string(invalidTokenKind(kind))).Wrap(err)
	}

	id, err := ulid.Parse(claims.Subject)
	if err != nil {
		return nil, oops.Code(string(invalidTokenKind(kind))).With("subject", claims.Subject).Wrap(err)
	}

	account, err := v.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errInvalidToken(kind)
		}
		return nil, oops.Code("AUTH_VERIFY_FAILED").
			With("operation", "get account by id").
			With("account_id", id.String()).
			Wrap(err)
	}

	stored := account.AccessTokenHash
	if kind == RefreshToken {
		stored = account.RefreshTokenHash
	}
	if !TokenMatches(token, stored) {
		return nil, errInvalidToken(kind)
	}

	return &Principal{Claims: claims, Account: account}, nil
}

func invalidTokenKind(kind TokenKind) Kind {
	if kind == RefreshToken {
		return KindInvalidRefreshToken
	}
	return KindInvalidToken
}
