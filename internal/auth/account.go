// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
)

// Account is the persisted user record. The service loads a copy, mutates it
// and commits it with a single AccountRepository.Update.
type Account struct {
	ID        ulid.ULID
	Username  string
	FirstName string
	LastName  string
	Emails    []string
	Phones    []string

	PasswordHash       string
	PasswordHistory    []string // most recent first
	LastPasswordChange time.Time

	// ResetTokenHash is the digest of the outstanding password reset token.
	ResetTokenHash string
	ResetExpiresAt *time.Time

	// Session state holds SHA-256 digests of the issued tokens, never the
	// tokens themselves. Either all three are set or none are.
	AccessTokenHash  string
	RefreshTokenHash string
	SessionExpiresAt *time.Time

	FailedAttempts int
	Locked         bool
	LockedUntil    *time.Time // nil while Locked means locked until an admin unlocks

	LoginCount int
	LastLogin  *time.Time

	// Version is the optimistic concurrency token. Update succeeds only when
	// it matches the stored value, then increments it.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Emails = slices.Clone(a.Emails)
	c.Phones = slices.Clone(a.Phones)
	c.PasswordHistory = slices.Clone(a.PasswordHistory)
	c.SessionExpiresAt = cloneTime(a.SessionExpiresAt)
	c.LockedUntil = cloneTime(a.LockedUntil)
	c.LastLogin = cloneTime(a.LastLogin)
	c.ResetExpiresAt = cloneTime(a.ResetExpiresAt)
	return &c
}

// HasActiveSession reports whether a token pair is stored and unexpired.
func (a *Account) HasActiveSession(now time.Time) bool {
	if a.AccessTokenHash == "" || a.RefreshTokenHash == "" {
		return false
	}
	return a.SessionExpiresAt == nil || now.Before(*a.SessionExpiresAt)
}

// ClearSession removes the stored token pair.
func (a *Account) ClearSession() {
	a.AccessTokenHash = ""
	a.RefreshTokenHash = ""
	a.SessionExpiresAt = nil
}

func (a *Account) setSession(pair *TokenPair) {
	a.AccessTokenHash = HashToken(pair.AccessToken)
	a.RefreshTokenHash = HashToken(pair.RefreshToken)
	expires := pair.RefreshExpiresAt
	a.SessionExpiresAt = &expires
}

// HasEmail reports whether the account owns email, ignoring case.
func (a *Account) HasEmail(email string) bool {
	return slices.ContainsFunc(a.Emails, func(e string) bool { return strings.EqualFold(e, email) })
}

// PrimaryEmail returns the first registered email address.
func (a *Account) PrimaryEmail() string {
	if len(a.Emails) == 0 {
		return ""
	}
	return a.Emails[0]
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// AccountRepository persists accounts. Implementations enforce case-insensitive
// uniqueness of usernames and email addresses and provide per-record
// compare-and-set on Version.
type AccountRepository interface {
	// Create stores a new account. Returns ErrConflict when the username or any
	// email is already taken. On success the account's Version is set to 1.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByIdentifier retrieves an account by username or email address,
	// case-insensitively. Returns ErrNotFound if absent.
	GetByIdentifier(ctx context.Context, identifier string) (*Account, error)

	// Update replaces the stored account if its version equals account.Version.
	// Returns ErrStaleAccount on a version mismatch, ErrNotFound if the account
	// was deleted, and ErrConflict on a uniqueness violation. On success the
	// account's Version is incremented in place.
	Update(ctx context.Context, account *Account) error

	// Delete removes an account. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id ulid.ULID) error
}

// Field limits.
const (
	UsernameMinLength = 3
	UsernameMaxLength = 30
	NameMaxLength     = 50
	EmailMaxLength    = 254
	MaxEmails         = 10
	MaxPhones         = 10
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern    = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

	// Password policy character classes. The allowed set matches the special
	// characters accepted by the strength rule.
	passwordLower   = regexp.MustCompile(`[a-z]`)
	passwordUpper   = regexp.MustCompile(`[A-Z]`)
	passwordDigit   = regexp.MustCompile(`[0-9]`)
	passwordSpecial = regexp.MustCompile(`[@$!%*?&]`)
	passwordAllowed = regexp.MustCompile(`^[A-Za-z0-9@$!%*?&]{8,128}$`)
)

// ValidateUsername checks that a username is alphanumeric and 3-30 characters.
func ValidateUsername(username string) error {
	if username == "" {
		return errInvalidInput("username", "username is required")
	}
	if len(username) < UsernameMinLength || len(username) > UsernameMaxLength {
		return errInvalidInput("username", "username must be %d-%d characters", UsernameMinLength, UsernameMaxLength)
	}
	if !usernamePattern.MatchString(username) {
		return errInvalidInput("username", "username must be alphanumeric")
	}
	return nil
}

// ValidateName checks a first or last name.
func ValidateName(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errInvalidInput(field, "%s is required", field)
	}
	if utf8.RuneCountInString(name) > NameMaxLength {
		return errInvalidInput(field, "%s must be at most %d characters", field, NameMaxLength)
	}
	return nil
}

// ValidateEmail checks the shape of an email address.
func ValidateEmail(email string) error {
	if email == "" {
		return errInvalidInput("email", "email is required")
	}
	if len(email) > EmailMaxLength || !emailPattern.MatchString(email) {
		return errInvalidInput("email", "email is invalid")
	}
	return nil
}

// ValidatePhone checks a phone number: digits with an optional leading +.
func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return errInvalidInput("phone", "phone number is invalid")
	}
	return nil
}

// ValidatePassword enforces the strength rule: at least 8 characters with a
// lowercase letter, an uppercase letter, a digit and one of @$!%*?&.
func ValidatePassword(password string) error {
	if password == "" {
		return errInvalidInput("password", "password is required")
	}
	if !passwordAllowed.MatchString(password) ||
		!passwordLower.MatchString(password) ||
		!passwordUpper.MatchString(password) ||
		!passwordDigit.MatchString(password) ||
		!passwordSpecial.MatchString(password) {
		return errInvalidInput("password", "password is weak")
	}
	return nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
