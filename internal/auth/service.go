// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("keyward/auth")

// ActiveSessionPolicy decides what Login does when the account already holds
// an unexpired token pair.
type ActiveSessionPolicy string

// Active session policies.
const (
	// ActiveSessionReject fails the login with AlreadyLoggedIn.
	ActiveSessionReject ActiveSessionPolicy = "reject"
	// ActiveSessionReplace issues a new pair, invalidating the stored one.
	ActiveSessionReplace ActiveSessionPolicy = "replace"
)

// Valid reports whether p is a known policy.
func (p ActiveSessionPolicy) Valid() bool {
	return p == ActiveSessionReject || p == ActiveSessionReplace
}

// DefaultCommitRetries bounds how many times a flow is re-run after losing a
// concurrent update race on the same account.
const DefaultCommitRetries = 3

// Config is the engine configuration passed to NewService.
type Config struct {
	Tokens              TokenConfig
	Lockout             LockoutPolicy
	HistoryDepth        int
	ResetTTL            time.Duration
	ActiveSessionPolicy ActiveSessionPolicy
	CommitRetries       uint64
}

// DefaultConfig returns the defaults for everything except the token secrets.
func DefaultConfig() Config {
	return Config{
		Tokens: TokenConfig{
			AccessTTL:  DefaultAccessTokenTTL,
			RefreshTTL: DefaultRefreshTokenTTL,
			Issuer:     DefaultTokenIssuer,
		},
		Lockout:             DefaultLockoutPolicy(),
		HistoryDepth:        DefaultHistoryDepth,
		ResetTTL:            DefaultResetTTL,
		ActiveSessionPolicy: ActiveSessionReject,
		CommitRetries:       DefaultCommitRetries,
	}
}

// Service is the session lifecycle controller. Every flow is a single
// read-modify-write of one account, committed by one AccountRepository.Update.
// A flow that fails, or whose context is cancelled before the commit, leaves
// the stored account unchanged.
type Service struct {
	accounts AccountRepository
	hasher   PasswordHasher
	history  *HistoryGuard
	lockout  LockoutPolicy
	issuer   *TokenIssuer
	verifier *TokenVerifier
	policy   ActiveSessionPolicy
	resetTTL time.Duration
	retries  uint64
	logger   *slog.Logger
	now      func() time.Time

	dummyHash func() (string, error)
}

// ServiceOption configures a Service during construction.
type ServiceOption func(*Service)

// WithLogger sets the logger used for security events and best-effort failures.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock replaces time.Now. Token timestamps and lockout expiry use it.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a Service. Returns an error if a dependency is missing or
// the configuration is invalid.
func NewService(accounts AccountRepository, hasher PasswordHasher, cfg Config, opts ...ServiceOption) (*Service, error) {
	if accounts == nil {
		return nil, oops.Errorf("accounts repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if err := cfg.Lockout.Validate(); err != nil {
		return nil, err
	}
	if cfg.ResetTTL <= 0 {
		return nil, oops.Code("AUTH_RESET_TTL_INVALID").
			With("reset_ttl", cfg.ResetTTL).
			Errorf("reset TTL must be positive")
	}
	if !cfg.ActiveSessionPolicy.Valid() {
		return nil, oops.Code("AUTH_SESSION_POLICY_INVALID").
			With("policy", string(cfg.ActiveSessionPolicy)).
			Errorf("active session policy must be %q or %q", ActiveSessionReject, ActiveSessionReplace)
	}

	s := &Service{
		accounts: accounts,
		hasher:   hasher,
		lockout:  cfg.Lockout,
		policy:   cfg.ActiveSessionPolicy,
		resetTTL: cfg.ResetTTL,
		retries:  cfg.CommitRetries,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		return nil, oops.Errorf("logger cannot be nil")
	}
	if s.now == nil {
		return nil, oops.Errorf("clock cannot be nil")
	}

	history, err := NewHistoryGuard(hasher, cfg.HistoryDepth)
	if err != nil {
		return nil, err
	}
	issuer, err := NewTokenIssuer(cfg.Tokens, s.now)
	if err != nil {
		return nil, err
	}
	verifier, err := NewTokenVerifier(issuer, accounts)
	if err != nil {
		return nil, err
	}
	s.history = history
	s.issuer = issuer
	s.verifier = verifier
	s.dummyHash = sync.OnceValues(func() (string, error) {
		return hasher.Hash(ulid.Make().String())
	})
	return s, nil
}

// LoginResult is returned by Login and Refresh.
type LoginResult struct {
	Tokens  *TokenPair
	Account *Account
}

// fallbackDummyHash is verified against when the configured hasher could not
// produce a dummy digest. It never matches any password.
//
//nolint:gosec // G101: intentionally fake hash used to equalize login timing.
const fallbackDummyHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// Register creates an account with empty session and lockout state. The
// returned account carries no tokens.
func (s *Service) Register(ctx context.Context, in RegisterInput) (account *Account, err error) {
	ctx, done := s.startFlow(ctx, FlowRegister)
	defer func() { done(err) }()

	if err = in.Validate(); err != nil {
		return nil, err
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	now := s.now()
	account = &Account{
		ID:                 ulid.Make(),
		Username:           in.Username,
		FirstName:          strings.TrimSpace(in.FirstName),
		LastName:           strings.TrimSpace(in.LastName),
		Emails:             []string{NormalizeEmail(in.Email)},
		PasswordHash:       digest,
		LastPasswordChange: now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if in.Phone != "" {
		account.Phones = []string{in.Phone}
	}

	if err = ctx.Err(); err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "create account").Wrap(err)
	}
	if err = s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger.InfoContext(ctx, "registration rejected: duplicate identity",
				"username", in.Username, "error", err)
			return nil, oops.Code(string(KindConflict)).
				With("username", in.Username).
				Errorf("username or email is already registered")
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "create account").Wrap(err)
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())
	return account, nil
}

// Login authenticates a username-or-email and password and issues a token
// pair. Unknown identities still pay for a password verification so response
// time does not reveal whether the account exists.
func (s *Service) Login(ctx context.Context, in LoginInput) (result *LoginResult, err error) {
	ctx, done := s.startFlow(ctx, FlowLogin)
	defer func() { done(err) }()

	if err = in.Validate(); err != nil {
		return nil, err
	}
	identifier := strings.TrimSpace(in.Identifier)

	err = s.commitLoop(ctx, FlowLogin, func(ctx context.Context) error {
		r, loginErr := s.login(ctx, identifier, in.Password)
		result = r
		return loginErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	account, err := s.accounts.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.burnVerify(password)
			return nil, errInvalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "get account by identifier").Wrap(err)
	}

	now := s.now()
	if err := s.lockout.Check(account, now); err != nil {
		s.logger.WarnContext(ctx, "login rejected: account locked", "account_id", account.ID.String())
		return nil, err
	}

	valid, err := s.hasher.Verify(password, account.PasswordHash)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID.String()).
			Wrap(err)
	}

	if !valid {
		locked := s.lockout.RecordFailure(account, now)
		if err := s.commit(ctx, account); err != nil {
			return nil, err
		}
		if locked {
			Lockouts.Inc()
			s.logger.WarnContext(ctx, "account locked after repeated login failures",
				"account_id", account.ID.String(),
				"failed_attempts", account.FailedAttempts,
				"locked_until", account.LockedUntil)
			return nil, s.lockout.lockedError(account, now)
		}
		return nil, errInvalidCredentials()
	}

	if account.HasActiveSession(now) && s.policy == ActiveSessionReject {
		// The password was correct, so earlier failures no longer count.
		if account.FailedAttempts > 0 {
			s.lockout.RecordSuccess(account)
			if err := s.commit(ctx, account); err != nil {
				return nil, err
			}
		}
		return nil, oops.Code(string(KindAlreadyLoggedIn)).
			With("account_id", account.ID.String()).
			Errorf("account already has an active session")
	}

	pair, err := s.issuer.Issue(account)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue tokens").Wrap(err)
	}

	s.lockout.RecordSuccess(account)
	account.setSession(pair)
	account.LoginCount++
	account.LastLogin = &now

	if s.hasher.NeedsRehash(account.PasswordHash) {
		if upgraded, hashErr := s.hasher.Hash(password); hashErr == nil {
			account.PasswordHash = upgraded
		} else {
			s.logger.WarnContext(ctx, "best-effort password rehash failed",
				"account_id", account.ID.String(),
				"operation", "rehash password",
				"error", hashErr)
		}
	}

	if err := s.commit(ctx, account); err != nil {
		return nil, err
	}
	return &LoginResult{Tokens: pair, Account: account}, nil
}

// burnVerify runs a verification that cannot succeed.
func (s *Service) burnVerify(password string) {
	digest, err := s.dummyHash()
	if err != nil {
		digest = fallbackDummyHash
	}
	_, _ = s.hasher.Verify(password, digest) //nolint:errcheck // result is irrelevant
}

// Authenticate verifies an access token and returns the identity it binds to.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	return s.verifier.Verify(ctx, accessToken, AccessToken)
}

// Logout clears the stored token pair of the account the access token binds
// to. A second Logout with the same token fails with InvalidToken because the
// stored digest is gone; the account's session fields stay empty.
func (s *Service) Logout(ctx context.Context, accessToken string) (err error) {
	ctx, done := s.startFlow(ctx, FlowLogout)
	defer func() { done(err) }()

	return s.commitLoop(ctx, FlowLogout, func(ctx context.Context) error {
		principal, err := s.verifier.Verify(ctx, accessToken, AccessToken)
		if err != nil {
			return err
		}
		principal.Account.ClearSession()
		return s.commit(ctx, principal.Account)
	})
}

// Refresh exchanges a refresh token for a new pair and overwrites the stored
// pair. The presented refresh token stops verifying as soon as the new pair is
// committed, so each refresh token is usable once.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (result *LoginResult, err error) {
	ctx, done := s.startFlow(ctx, FlowRefresh)
	defer func() { done(err) }()

	err = s.commitLoop(ctx, FlowRefresh, func(ctx context.Context) error {
		principal, err := s.verifier.Verify(ctx, refreshToken, RefreshToken)
		if err != nil {
			if IsKind(err, KindInvalidRefreshToken) {
				s.logger.WarnContext(ctx, "refresh token rejected", "error", err)
			}
			return err
		}

		account := principal.Account
		pair, err := s.issuer.Issue(account)
		if err != nil {
			return oops.Code("AUTH_REFRESH_FAILED").With("operation", "issue tokens").Wrap(err)
		}
		account.setSession(pair)
		if err := s.commit(ctx, account); err != nil {
			return err
		}
		result = &LoginResult{Tokens: pair, Account: account}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// commit persists the account. A cancelled context aborts before the write.
func (s *Service) commit(ctx context.Context, account *Account) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("AUTH_COMMIT_ABORTED").With("account_id", account.ID.String()).Wrap(err)
	}
	account.UpdatedAt = s.now()
	if err := s.accounts.Update(ctx, account); err != nil {
		return oops.Code("AUTH_COMMIT_FAILED").
			With("operation", "update account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// commitLoop runs fn and re-runs it from a fresh read when the commit loses a
// version race. Any other error ends the loop.
func (s *Service) commitLoop(ctx context.Context, flow string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.retries, retry.WithJitter(5*time.Millisecond, retry.NewExponential(5*time.Millisecond)))

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if attempt > 0 {
			CommitRetries.WithLabelValues(flow).Inc()
		}
		attempt++
		if err := fn(ctx); err != nil {
			if errors.Is(err, ErrStaleAccount) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if errors.Is(err, ErrStaleAccount) {
		s.logger.WarnContext(ctx, "flow abandoned after concurrent updates",
			"flow", flow, "attempts", attempt)
	}
	return err //nolint:wrapcheck // fn errors are already wrapped
}

// startFlow opens the flow's span. The returned func records the outcome in
// the span and in the flow metrics.
func (s *Service) startFlow(ctx context.Context, flow string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "auth."+flow, trace.WithAttributes(attribute.String("auth.flow", flow)))
	return ctx, func(err error) {
		RecordFlow(flow, err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(KindOf(err)))
		}
		span.End()
	}
}
