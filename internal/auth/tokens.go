// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Token defaults.
const (
	DefaultAccessTokenTTL  = 24 * time.Hour
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultTokenIssuer     = "keyward"

	// MinSecretLength is the minimum HS256 signing secret length in bytes.
	MinSecretLength = 32
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

// Token kinds.
const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// TokenConfig configures token signing.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
}

// Validate rejects missing, short or shared secrets and non-positive lifetimes.
func (c TokenConfig) Validate() error {
	switch {
	case len(c.AccessSecret) < MinSecretLength:
		return oops.Code("AUTH_TOKENS_MISCONFIGURED").
			Errorf("access token secret must be at least %d bytes", MinSecretLength)
	case len(c.RefreshSecret) < MinSecretLength:
		return oops.Code("AUTH_TOKENS_MISCONFIGURED").
			Errorf("refresh token secret must be at least %d bytes", MinSecretLength)
	case subtle.ConstantTimeCompare([]byte(c.AccessSecret), []byte(c.RefreshSecret)) == 1:
		return oops.Code("AUTH_TOKENS_MISCONFIGURED").
			Errorf("access and refresh token secrets must differ")
	case c.AccessTTL <= 0 || c.RefreshTTL <= 0:
		return oops.Code("AUTH_TOKENS_MISCONFIGURED").
			With("access_ttl", c.AccessTTL.String()).
			With("refresh_ttl", c.RefreshTTL.String()).
			Errorf("token lifetimes must be positive")
	case c.Issuer == "":
		return oops.Code("AUTH_TOKENS_MISCONFIGURED").Errorf("token issuer is required")
	}
	return nil
}

// Claims is the JWT payload of both token kinds.
type Claims struct {
	Username string    `json:"username"`
	Email    string    `json:"email,omitempty"`
	Kind     TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair is a freshly issued access/refresh pair.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// TokenIssuer mints signed access and refresh tokens. It persists nothing;
// the caller stores the pair on the account.
type TokenIssuer struct {
	cfg        TokenConfig
	accessKey  []byte
	refreshKey []byte
	now        func() time.Time
}

// NewTokenIssuer creates a TokenIssuer from validated configuration.
func NewTokenIssuer(cfg TokenConfig, now func() time.Time) (*TokenIssuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{
		cfg:        cfg,
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		now:        now,
	}, nil
}

// Issue mints a new pair for the account. Every token carries a random jti,
// so two pairs minted within the same second still differ.
func (i *TokenIssuer) Issue(a *Account) (*TokenPair, error) {
	now := i.now().UTC().Truncate(time.Second)

	access, accessExp, err := i.sign(a, AccessToken, now)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, err := i.sign(a, RefreshToken, now)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *TokenIssuer) sign(a *Account, kind TokenKind, now time.Time) (string, time.Time, error) {
	expires := now.Add(i.ttl(kind))
	claims := Claims{
		Username: a.Username,
		Email:    a.PrimaryEmail(),
		Kind:     kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   a.ID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key(kind))
	if err != nil {
		return "", time.Time{}, oops.Code("AUTH_TOKEN_SIGN_FAILED").With("kind", string(kind)).Wrap(err)
	}
	return signed, expires, nil
}

// parse checks signature, algorithm, issuer and expiry of a token of the given
// kind. Errors carry no code so the caller decides the kind.
func (i *TokenIssuer) parse(token string, kind TokenKind) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.key(kind), nil
	})
	if err != nil {
		return nil, oops.With("kind", string(kind)).Wrap(err)
	}
	if !parsed.Valid || claims.Kind != kind {
		return nil, oops.With("kind", string(kind)).With("claimed_kind", string(claims.Kind)).
			Errorf("token kind mismatch")
	}
	return claims, nil
}

func (i *TokenIssuer) key(kind TokenKind) []byte {
	if kind == RefreshToken {
		return i.refreshKey
	}
	return i.accessKey
}

func (i *TokenIssuer) ttl(kind TokenKind) time.Duration {
	if kind == RefreshToken {
		return i.cfg.RefreshTTL
	}
	return i.cfg.AccessTTL
}

// HashToken computes the hex SHA-256 digest stored in place of a token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenMatches reports in constant time whether token hashes to digest.
// An empty digest never matches.
func TokenMatches(token, digest string) bool {
	if token == "" || digest == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashToken(token)), []byte(digest)) == 1
}
