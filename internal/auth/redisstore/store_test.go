// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package redisstore_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/auth/redisstore"
)

func newTestStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstore.New(client, ""), server
}

func newAccount(username string, emails ...string) *auth.Account {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &auth.Account{
		ID:                 ulid.Make(),
		Username:           username,
		FirstName:          "Test",
		LastName:           "User",
		Emails:             emails,
		PasswordHash:       "hash",
		LastPasswordChange: now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestStore_CreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store, server := newTestStore(t)

	account := newAccount("Alice", "alice@example.com")
	require.NoError(t, store.Create(ctx, account))
	assert.Equal(t, int64(1), account.Version)

	assert.True(t, server.Exists("keyward:account:"+account.ID.String()))
	got, err := server.Get("keyward:username:alice")
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), got)

	for _, ident := range []string{"alice", "ALICE", "Alice@Example.com"} {
		found, err := store.GetByIdentifier(ctx, ident)
		require.NoError(t, err, ident)
		assert.Equal(t, account.ID, found.ID)
		assert.Equal(t, int64(1), found.Version)
	}

	_, err = store.GetByIdentifier(ctx, "bob")
	require.ErrorIs(t, err, auth.ErrNotFound)
	_, err = store.GetByID(ctx, ulid.Make())
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestStore_CreateRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.Create(ctx, newAccount("alice", "alice@example.com")))

	require.ErrorIs(t, store.Create(ctx, newAccount("ALICE", "other@example.com")), auth.ErrConflict)
	require.ErrorIs(t, store.Create(ctx, newAccount("bob", "Alice@example.com")), auth.ErrConflict)

	_, err := store.GetByIdentifier(ctx, "other@example.com")
	require.ErrorIs(t, err, auth.ErrNotFound, "rejected create leaves no index behind")
}

func TestStore_UpdateComparesVersion(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	account := newAccount("alice", "alice@example.com")
	require.NoError(t, store.Create(ctx, account))

	first, err := store.GetByID(ctx, account.ID)
	require.NoError(t, err)
	second, err := store.GetByID(ctx, account.ID)
	require.NoError(t, err)

	expires := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	first.AccessTokenHash = auth.HashToken("a")
	first.RefreshTokenHash = auth.HashToken("r")
	first.SessionExpiresAt = &expires
	require.NoError(t, store.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.FailedAttempts = 3
	require.ErrorIs(t, store.Update(ctx, second), auth.ErrStaleAccount)
	assert.Equal(t, int64(1), second.Version)

	stored, err := store.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.FailedAttempts)
	assert.Equal(t, first.AccessTokenHash, stored.AccessTokenHash)
	require.NotNil(t, stored.SessionExpiresAt)
	assert.True(t, expires.Equal(*stored.SessionExpiresAt))
}

func TestStore_UpdateMovesIndexes(t *testing.T) {
	ctx := context.Background()
	store, server := newTestStore(t)
	account := newAccount("alice", "alice@example.com")
	require.NoError(t, store.Create(ctx, account))

	account.Emails = []string{"new@example.com"}
	require.NoError(t, store.Update(ctx, account))

	assert.False(t, server.Exists("keyward:email:alice@example.com"))
	found, err := store.GetByIdentifier(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, account.ID, found.ID)

	require.NoError(t, store.Create(ctx, newAccount("bob", "alice@example.com")),
		"a released email can be claimed again")
}

func TestStore_UpdateMovesUsernameIndex(t *testing.T) {
	ctx := context.Background()
	store, server := newTestStore(t)
	account := newAccount("alice", "alice@example.com")
	require.NoError(t, store.Create(ctx, account))
	require.NoError(t, store.Create(ctx, newAccount("bob", "bob@example.com")))

	account.Username = "Alicia"
	require.NoError(t, store.Update(ctx, account))

	assert.False(t, server.Exists("keyward:username:alice"))
	got, err := server.Get("keyward:username:alicia")
	require.NoError(t, err)
	assert.Equal(t, account.ID.String(), got)
	_, err = store.GetByIdentifier(ctx, "alice")
	assert.ErrorIs(t, err, auth.ErrNotFound)

	account.Username = "BOB"
	require.ErrorIs(t, store.Update(ctx, account), auth.ErrConflict)
	assert.Equal(t, int64(2), account.Version)
}

func TestStore_UpdateRejectsTakenEmail(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	require.NoError(t, store.Create(ctx, newAccount("bob", "bob@example.com")))
	alice := newAccount("alice", "alice@example.com")
	require.NoError(t, store.Create(ctx, alice))

	alice.Emails = append(alice.Emails, "BOB@example.com")
	require.ErrorIs(t, store.Update(ctx, alice), auth.ErrConflict)
	assert.Equal(t, int64(1), alice.Version)
}

func TestStore_UpdateMissingAccount(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Update(context.Background(), newAccount("ghost"))
	require.ErrorIs(t, err, auth.ErrNotFound)
}

func TestStore_DeleteReleasesIndexes(t *testing.T) {
	ctx := context.Background()
	store, server := newTestStore(t)
	account := newAccount("alice", "alice@example.com")
	require.NoError(t, store.Create(ctx, account))

	require.NoError(t, store.Delete(ctx, account.ID))
	assert.Empty(t, server.Keys())
	require.ErrorIs(t, store.Delete(ctx, account.ID), auth.ErrNotFound)
}

func TestStore_ConcurrentUpdatesHaveOneWinner(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	account := newAccount("alice", "alice@example.com")
	require.NoError(t, store.Create(ctx, account))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := account.Clone()
			c.LoginCount = i
			if store.Update(ctx, c) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	stored, err := store.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestStore_CustomPrefix(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := redisstore.New(client, "tenant-a")
	account := newAccount("alice")
	require.NoError(t, store.Create(context.Background(), account))
	assert.True(t, server.Exists("tenant-a:account:"+account.ID.String()))
}

func TestStore_CorruptRecordIsInternal(t *testing.T) {
	store, server := newTestStore(t)
	id := ulid.Make()
	require.NoError(t, server.Set("keyward:account:"+id.String(), "{not json"))

	_, err := store.GetByID(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, auth.KindInternal, auth.KindOf(err))
}

func TestStore_ServiceFlow(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	hasher, err := auth.NewArgon2idHasher(auth.Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	require.NoError(t, err)
	cfg := auth.DefaultConfig()
	cfg.Tokens.AccessSecret = "access-secret-0123456789abcdefghijklmnop"
	cfg.Tokens.RefreshSecret = "refresh-secret-0123456789abcdefghijklmno"
	svc, err := auth.NewService(store, hasher, cfg)
	require.NoError(t, err)

	_, err = svc.Register(ctx, auth.RegisterInput{
		Username: "alice", FirstName: "Alice", LastName: "Liddell",
		Email: "alice@example.com", Password: "Str0ng!Pass",
	})
	require.NoError(t, err)

	res, err := svc.Login(ctx, auth.LoginInput{Identifier: "alice@example.com", Password: "Str0ng!Pass"})
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.True(t, auth.IsKind(err, auth.KindInvalidRefreshToken))

	require.NoError(t, svc.Logout(ctx, rotated.Tokens.AccessToken))
}
