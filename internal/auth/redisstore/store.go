// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package redisstore keeps accounts in Redis. Each account is one JSON value
// with separate index keys for its username and email addresses. Writes run
// under WATCH so a concurrent change aborts the transaction.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// DefaultKeyPrefix namespaces every key the store writes.
const DefaultKeyPrefix = "keyward"

// createAttempts bounds how often Create re-runs after losing a WATCH race.
const createAttempts = 3

// Store implements auth.AccountRepository on a Redis client.
type Store struct {
	client redis.UniversalClient
	prefix string
}

// New creates a Store. An empty prefix selects DefaultKeyPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) accountKey(id string) string { return s.prefix + ":account:" + id }

func (s *Store) usernameKey(username string) string {
	return s.prefix + ":username:" + strings.ToLower(username)
}

func (s *Store) emailKey(email string) string {
	return s.prefix + ":email:" + strings.ToLower(email)
}

func (s *Store) indexKeys(a *auth.Account) []string {
	keys := make([]string, 0, len(a.Emails)+1)
	keys = append(keys, s.usernameKey(a.Username))
	for _, e := range a.Emails {
		keys = append(keys, s.emailKey(e))
	}
	return keys
}

// record is the stored JSON form of an account.
type record struct {
	ID                 string     `json:"id"`
	Username           string     `json:"username"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	Emails             []string   `json:"emails"`
	Phones             []string   `json:"phones,omitempty"`
	PasswordHash       string     `json:"password_hash"`
	PasswordHistory    []string   `json:"password_history,omitempty"`
	LastPasswordChange time.Time  `json:"last_password_change"`
	ResetTokenHash     string     `json:"reset_token_hash,omitempty"`
	ResetExpiresAt     *time.Time `json:"reset_expires_at,omitempty"`
	AccessTokenHash    string     `json:"access_token_hash,omitempty"`
	RefreshTokenHash   string     `json:"refresh_token_hash,omitempty"`
	SessionExpiresAt   *time.Time `json:"session_expires_at,omitempty"`
	FailedAttempts     int        `json:"failed_attempts"`
	Locked             bool       `json:"locked"`
	LockedUntil        *time.Time `json:"locked_until,omitempty"`
	LoginCount         int        `json:"login_count"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	Version            int64      `json:"version"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toRecord(a *auth.Account) record {
	return record{
		ID:                 a.ID.String(),
		Username:           a.Username,
		FirstName:          a.FirstName,
		LastName:           a.LastName,
		Emails:             a.Emails,
		Phones:             a.Phones,
		PasswordHash:       a.PasswordHash,
		PasswordHistory:    a.PasswordHistory,
		LastPasswordChange: a.LastPasswordChange,
		ResetTokenHash:     a.ResetTokenHash,
		ResetExpiresAt:     a.ResetExpiresAt,
		AccessTokenHash:    a.AccessTokenHash,
		RefreshTokenHash:   a.RefreshTokenHash,
		SessionExpiresAt:   a.SessionExpiresAt,
		FailedAttempts:     a.FailedAttempts,
		Locked:             a.Locked,
		LockedUntil:        a.LockedUntil,
		LoginCount:         a.LoginCount,
		LastLogin:          a.LastLogin,
		Version:            a.Version,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

func (r record) account() (*auth.Account, error) {
	id, err := ulid.Parse(r.ID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT").With("account_id", r.ID).Wrap(err)
	}
	return &auth.Account{
		ID:                 id,
		Username:           r.Username,
		FirstName:          r.FirstName,
		LastName:           r.LastName,
		Emails:             r.Emails,
		Phones:             r.Phones,
		PasswordHash:       r.PasswordHash,
		PasswordHistory:    r.PasswordHistory,
		LastPasswordChange: r.LastPasswordChange,
		ResetTokenHash:     r.ResetTokenHash,
		ResetExpiresAt:     r.ResetExpiresAt,
		AccessTokenHash:    r.AccessTokenHash,
		RefreshTokenHash:   r.RefreshTokenHash,
		SessionExpiresAt:   r.SessionExpiresAt,
		FailedAttempts:     r.FailedAttempts,
		Locked:             r.Locked,
		LockedUntil:        r.LockedUntil,
		LoginCount:         r.LoginCount,
		LastLogin:          r.LastLogin,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}, nil
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readAccount(ctx context.Context, cmd getter, key string) (*auth.Account, error) {
	raw, err := cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("key", key).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_QUERY_FAILED").With("key", key).Wrap(err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT").With("key", key).Wrap(err)
	}
	return rec.account()
}

// checkIndexes fails with ErrConflict when any index key belongs to an
// account other than owner.
func checkIndexes(ctx context.Context, tx *redis.Tx, owner string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	owners, err := tx.MGet(ctx, keys...).Result()
	if err != nil {
		return oops.Code("ACCOUNT_QUERY_FAILED").With("operation", "read indexes").Wrap(err)
	}
	for i, v := range owners {
		if id, ok := v.(string); ok && id != owner {
			return oops.Code("ACCOUNT_DUPLICATE").With("key", keys[i]).Wrap(auth.ErrConflict)
		}
	}
	return nil
}

// Create stores a new account and claims its index keys.
func (s *Store) Create(ctx context.Context, account *auth.Account) error {
	id := account.ID.String()
	rec := toRecord(account)
	rec.Version = 1
	payload, err := json.Marshal(rec)
	if err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").With("operation", "encode account").Wrap(err)
	}

	indexes := s.indexKeys(account)
	watched := append([]string{s.accountKey(id)}, indexes...)
	txn := func(tx *redis.Tx) error {
		if err := checkIndexes(ctx, tx, id, indexes); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.accountKey(id), payload, 0)
			for _, key := range indexes {
				pipe.Set(ctx, key, id, 0)
			}
			return nil
		})
		return err
	}

	for range createAttempts {
		err = s.client.Watch(ctx, txn, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	switch {
	case errors.Is(err, auth.ErrConflict):
		return err
	case err != nil:
		return oops.Code("ACCOUNT_CREATE_FAILED").With("account_id", id).Wrap(err)
	}
	account.Version = 1
	return nil
}

// GetByID retrieves an account by ID.
func (s *Store) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	return readAccount(ctx, s.client, s.accountKey(id.String()))
}

// GetByIdentifier resolves identifier through the username index and then
// the email index.
func (s *Store) GetByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	for _, key := range []string{s.usernameKey(identifier), s.emailKey(identifier)} {
		id, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, oops.Code("ACCOUNT_QUERY_FAILED").
				With("operation", "resolve identifier").
				Wrap(err)
		}
		return readAccount(ctx, s.client, s.accountKey(id))
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").
		With("identifier", identifier).
		Wrap(auth.ErrNotFound)
}

// Update replaces the account when the stored version equals
// account.Version. A concurrent write to any watched key reports
// ErrStaleAccount.
func (s *Store) Update(ctx context.Context, account *auth.Account) error {
	id := account.ID.String()
	key := s.accountKey(id)
	indexes := s.indexKeys(account)
	watched := append([]string{key}, indexes...)

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readAccount(ctx, tx, key)
		if err != nil {
			return err
		}
		if current.Version != account.Version {
			return oops.Code("ACCOUNT_STALE").
				With("account_id", id).
				With("expected_version", account.Version).
				With("stored_version", current.Version).
				Wrap(auth.ErrStaleAccount)
		}
		if err := checkIndexes(ctx, tx, id, indexes); err != nil {
			return err
		}

		rec := toRecord(account)
		rec.Version++
		payload, err := json.Marshal(rec)
		if err != nil {
			return oops.Code("ACCOUNT_UPDATE_FAILED").With("operation", "encode account").Wrap(err)
		}

		keep := make(map[string]bool, len(indexes))
		for _, k := range indexes {
			keep[k] = true
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, old := range s.indexKeys(current) {
				if !keep[old] {
					pipe.Del(ctx, old)
				}
			}
			for _, k := range indexes {
				pipe.Set(ctx, k, id, 0)
			}
			pipe.Set(ctx, key, payload, 0)
			return nil
		})
		return err
	}, watched...)

	switch {
	case err == nil:
		account.Version++
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return oops.Code("ACCOUNT_STALE").
			With("account_id", id).
			Wrap(auth.ErrStaleAccount)
	case errors.Is(err, auth.ErrStaleAccount),
		errors.Is(err, auth.ErrNotFound),
		errors.Is(err, auth.ErrConflict):
		return err
	default:
		return oops.Code("ACCOUNT_UPDATE_FAILED").With("account_id", id).Wrap(err)
	}
}

// Delete removes an account with its index keys.
func (s *Store) Delete(ctx context.Context, id ulid.ULID) error {
	key := s.accountKey(id.String())
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readAccount(ctx, tx, key)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, append([]string{key}, s.indexKeys(current)...)...)
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return oops.Code("ACCOUNT_DELETE_FAILED").With("account_id", id.String()).Wrap(err)
	}
	return err
}

// Compile-time interface check.
var _ auth.AccountRepository = (*Store)(nil)
