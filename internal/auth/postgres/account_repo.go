// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package postgres stores accounts in PostgreSQL using the schema managed by
// internal/store.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// pool is the subset of *pgxpool.Pool the repository needs. pgxmock's pool
// satisfies it in tests.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AccountRepository implements auth.AccountRepository using PostgreSQL.
// Email addresses live in account_emails so the unique index can cover every
// address of every account.
type AccountRepository struct {
	db pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db pool) *AccountRepository {
	return &AccountRepository{db: db}
}

const selectAccount = `
	SELECT a.id, a.username, a.first_name, a.last_name,
	       COALESCE((SELECT array_agg(e.email ORDER BY e.position)
	                 FROM account_emails e WHERE e.account_id = a.id), '{}'),
	       a.phones, a.password_hash, a.password_history, a.last_password_change,
	       a.access_token_hash, a.refresh_token_hash, a.session_expires_at,
	       a.failed_attempts, a.locked, a.locked_until, a.login_count, a.last_login,
	       a.version, a.created_at, a.updated_at,
	       a.reset_token_hash, a.reset_expires_at
	FROM accounts a`

const insertEmails = `
	INSERT INTO account_emails (account_id, position, email)
	SELECT $1, t.ord - 1, t.email
	FROM unnest($2::text[]) WITH ORDINALITY AS t(email, ord)`

// Create stores a new account and its email addresses in one transaction.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	id := account.ID.String()
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO accounts (
				id, username, first_name, last_name, phones,
				password_hash, password_history, last_password_change,
				access_token_hash, refresh_token_hash, session_expires_at,
				failed_attempts, locked, locked_until, login_count, last_login,
				version, created_at, updated_at,
				reset_token_hash, reset_expires_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, 1, $17, $18, $19, $20)
		`,
			id,
			account.Username,
			account.FirstName,
			account.LastName,
			orEmpty(account.Phones),
			account.PasswordHash,
			orEmpty(account.PasswordHistory),
			account.LastPasswordChange,
			account.AccessTokenHash,
			account.RefreshTokenHash,
			account.SessionExpiresAt,
			account.FailedAttempts,
			account.Locked,
			account.LockedUntil,
			account.LoginCount,
			account.LastLogin,
			account.CreatedAt,
			account.UpdatedAt,
			account.ResetTokenHash,
			account.ResetExpiresAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, insertEmails, id, orEmpty(account.Emails))
		return err
	})
	if isUniqueViolation(err) {
		return oops.Code("ACCOUNT_DUPLICATE").
			With("username", account.Username).
			Wrap(auth.ErrConflict)
	}
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", id).
			Wrap(err)
	}
	account.Version = 1
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, selectAccount+` WHERE a.id = $1`, id.String())
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").
			With("operation", "get account by id").
			With("account_id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// GetByIdentifier retrieves an account by username or any of its email
// addresses, ignoring case.
func (r *AccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, selectAccount+`
		WHERE lower(a.username) = lower($1)
		   OR EXISTS (SELECT 1 FROM account_emails e
		              WHERE e.account_id = a.id AND lower(e.email) = lower($1))
		LIMIT 1`, identifier)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("identifier", identifier).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").
			With("operation", "get account by identifier").
			Wrap(err)
	}
	return account, nil
}

// errVersionMismatch aborts the update transaction when the version guard
// matched no row.
var errVersionMismatch = errors.New("version mismatch")

// Update replaces the stored account when its version still equals
// account.Version. Emails are rewritten in the same transaction.
func (r *AccountRepository) Update(ctx context.Context, account *auth.Account) error {
	id := account.ID.String()
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE accounts SET
				username = $3, first_name = $4, last_name = $5, phones = $6,
				password_hash = $7, password_history = $8, last_password_change = $9,
				access_token_hash = $10, refresh_token_hash = $11, session_expires_at = $12,
				failed_attempts = $13, locked = $14, locked_until = $15,
				login_count = $16, last_login = $17, updated_at = $18,
				reset_token_hash = $19, reset_expires_at = $20,
				version = version + 1
			WHERE id = $1 AND version = $2
		`,
			id,
			account.Version,
			account.Username,
			account.FirstName,
			account.LastName,
			orEmpty(account.Phones),
			account.PasswordHash,
			orEmpty(account.PasswordHistory),
			account.LastPasswordChange,
			account.AccessTokenHash,
			account.RefreshTokenHash,
			account.SessionExpiresAt,
			account.FailedAttempts,
			account.Locked,
			account.LockedUntil,
			account.LoginCount,
			account.LastLogin,
			account.UpdatedAt,
			account.ResetTokenHash,
			account.ResetExpiresAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errVersionMismatch
		}
		if _, err := tx.Exec(ctx, `DELETE FROM account_emails WHERE account_id = $1`, id); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, insertEmails, id, orEmpty(account.Emails))
		return err
	})

	switch {
	case err == nil:
		account.Version++
		return nil
	case errors.Is(err, errVersionMismatch):
		return r.missedUpdate(ctx, account)
	case isUniqueViolation(err):
		return oops.Code("ACCOUNT_DUPLICATE").
			With("account_id", id).
			Wrap(auth.ErrConflict)
	default:
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("account_id", id).
			Wrap(err)
	}
}

// missedUpdate tells a deleted account apart from a stale version.
func (r *AccountRepository) missedUpdate(ctx context.Context, account *auth.Account) error {
	id := account.ID.String()
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "check account exists").
			With("account_id", id).
			Wrap(err)
	}
	if !exists {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", id).
			Wrap(auth.ErrNotFound)
	}
	return oops.Code("ACCOUNT_STALE").
		With("account_id", id).
		With("version", account.Version).
		Wrap(auth.ErrStaleAccount)
}

// Delete removes an account. Its emails go with it through the cascade.
func (r *AccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").
			With("operation", "delete account").
			With("account_id", id.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("account_id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a  auth.Account
		id string
	)
	err := row.Scan(
		&id,
		&a.Username,
		&a.FirstName,
		&a.LastName,
		&a.Emails,
		&a.Phones,
		&a.PasswordHash,
		&a.PasswordHistory,
		&a.LastPasswordChange,
		&a.AccessTokenHash,
		&a.RefreshTokenHash,
		&a.SessionExpiresAt,
		&a.FailedAttempts,
		&a.Locked,
		&a.LockedUntil,
		&a.LoginCount,
		&a.LastLogin,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.ResetTokenHash,
		&a.ResetExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if a.ID, err = ulid.Parse(id); err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT").With("account_id", id).Wrap(err)
	}
	a.LastPasswordChange = a.LastPasswordChange.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	a.SessionExpiresAt = utc(a.SessionExpiresAt)
	a.LockedUntil = utc(a.LockedUntil)
	a.ResetExpiresAt = utc(a.ResetExpiresAt)
	a.LastLogin = utc(a.LastLogin)
	return &a, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

// orEmpty keeps nil slices from being sent as NULL into NOT NULL array
// columns.
func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
