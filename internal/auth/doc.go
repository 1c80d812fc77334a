// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package auth is the credential and session lifecycle engine.
//
// # Components
//
//   - Argon2idHasher - salted one-way password digests with constant-time verification
//   - HistoryGuard - rejects reuse of the most recent passwords
//   - LockoutPolicy - counts failed logins, locks accounts, unlocks lazily
//   - TokenIssuer - mints HS256 access and refresh tokens with separate secrets
//   - TokenVerifier - checks signature, expiry and liveness of a presented token
//   - Service - orchestrates register, login, logout, refresh, password change
//     and account deletion
//
// # Sessions
//
// An account holds at most one token pair, stored as SHA-256 digests. A token
// is live only while its digest matches the stored one, so logout, refresh
// and password change revoke earlier refresh tokens at their next use. An
// access token issued before a rotation stays cryptographically valid until
// it expires but fails the liveness check, which is the only revocation
// stateless tokens get.
//
// # Concurrency
//
// Service flows are request scoped. Each flow loads one account, mutates a
// private copy and commits it with AccountRepository.Update, which compares
// and swaps on Account.Version. A flow that loses the race is re-run from a
// fresh read a bounded number of times.
//
// # Errors
//
// Every error returned by Service resolves to a Kind via KindOf. Messages
// never reveal which of username, email or password was wrong.
package auth
