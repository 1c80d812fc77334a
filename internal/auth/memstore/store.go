// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package memstore provides an in-process auth.AccountRepository.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
)

// Store keeps accounts in memory. Reads and writes exchange copies, so callers
// never share an *auth.Account with the store.
type Store struct {
	mu         sync.RWMutex
	accounts   map[ulid.ULID]*auth.Account
	byUsername map[string]ulid.ULID
	byEmail    map[string]ulid.ULID
}

// Compile-time interface check.
var _ auth.AccountRepository = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		accounts:   make(map[ulid.ULID]*auth.Account),
		byUsername: make(map[string]ulid.ULID),
		byEmail:    make(map[string]ulid.ULID),
	}
}

// Create stores a new account.
func (s *Store) Create(ctx context.Context, account *auth.Account) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("ACCOUNT_CREATE_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return oops.Code("ACCOUNT_DUPLICATE").With("id", account.ID.String()).Wrap(auth.ErrConflict)
	}
	if err := s.checkUnique(account); err != nil {
		return err
	}

	now := time.Now()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = now
	}
	account.Version = 1

	s.put(account.Clone())
	return nil
}

// GetByID retrieves an account by ID.
func (s *Store) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").Wrap(err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return a.Clone(), nil
}

// GetByIdentifier retrieves an account by username or email.
func (s *Store) GetByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").Wrap(err)
	}

	key := strings.ToLower(strings.TrimSpace(identifier))

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[key]
	if !ok {
		id, ok = s.byEmail[key]
	}
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("identifier", identifier).Wrap(auth.ErrNotFound)
	}
	return s.accounts[id].Clone(), nil
}

// Update replaces an account if its version matches the stored one.
func (s *Store) Update(ctx context.Context, account *auth.Account) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[account.ID]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", account.ID.String()).Wrap(auth.ErrNotFound)
	}
	if current.Version != account.Version {
		return oops.Code("ACCOUNT_STALE").
			With("id", account.ID.String()).
			With("expected_version", account.Version).
			With("stored_version", current.Version).
			Wrap(auth.ErrStaleAccount)
	}
	if err := s.checkUnique(account); err != nil {
		return err
	}

	s.unindex(current)
	account.Version++
	s.put(account.Clone())
	return nil
}

// Delete removes an account.
func (s *Store) Delete(ctx context.Context, id ulid.ULID) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("ACCOUNT_DELETE_FAILED").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	s.unindex(a)
	delete(s.accounts, id)
	return nil
}

// Len returns the number of stored accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// checkUnique reports a conflict when the account's username or any of its
// emails belongs to a different account. Caller holds the write lock.
func (s *Store) checkUnique(a *auth.Account) error {
	if owner, ok := s.byUsername[strings.ToLower(a.Username)]; ok && owner != a.ID {
		return oops.Code("ACCOUNT_DUPLICATE").With("username", a.Username).Wrap(auth.ErrConflict)
	}
	for _, email := range a.Emails {
		if owner, ok := s.byEmail[strings.ToLower(email)]; ok && owner != a.ID {
			return oops.Code("ACCOUNT_DUPLICATE").With("email", email).Wrap(auth.ErrConflict)
		}
	}
	return nil
}

func (s *Store) put(a *auth.Account) {
	s.accounts[a.ID] = a
	s.byUsername[strings.ToLower(a.Username)] = a.ID
	for _, email := range a.Emails {
		s.byEmail[strings.ToLower(email)] = a.ID
	}
}

func (s *Store) unindex(a *auth.Account) {
	delete(s.byUsername, strings.ToLower(a.Username))
	for _, email := range a.Emails {
		delete(s.byEmail, strings.ToLower(email))
	}
}
