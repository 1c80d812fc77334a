// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package mocks provides testify mocks of the auth package interfaces.
package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/keyward/keyward/internal/auth"
)

// T is the subset of testing.TB the constructors need.
type T interface {
	mock.TestingT
	Cleanup(func())
}

// MockAccountRepository is a mock of auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

var _ auth.AccountRepository = (*MockAccountRepository)(nil)

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t T) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Create mocks AccountRepository.Create.
func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// GetByID mocks AccountRepository.GetByID.
func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	return accountArg(args, 0), args.Error(1)
}

// GetByIdentifier mocks AccountRepository.GetByIdentifier.
func (m *MockAccountRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.Account, error) {
	args := m.Called(ctx, identifier)
	return accountArg(args, 0), args.Error(1)
}

// Update mocks AccountRepository.Update.
func (m *MockAccountRepository) Update(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

// Delete mocks AccountRepository.Delete.
func (m *MockAccountRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func accountArg(args mock.Arguments, i int) *auth.Account {
	switch v := args.Get(i).(type) {
	case nil:
		return nil
	case func() *auth.Account:
		return v()
	default:
		return v.(*auth.Account)
	}
}

// MockPasswordHasher is a mock of auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

var _ auth.PasswordHasher = (*MockPasswordHasher)(nil)

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t T) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Hash mocks PasswordHasher.Hash.
func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// Verify mocks PasswordHasher.Verify.
func (m *MockPasswordHasher) Verify(password, digest string) (bool, error) {
	args := m.Called(password, digest)
	return args.Bool(0), args.Error(1)
}

// NeedsRehash mocks PasswordHasher.NeedsRehash.
func (m *MockPasswordHasher) NeedsRehash(digest string) bool {
	return m.Called(digest).Bool(0)
}
