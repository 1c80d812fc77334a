// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"time"

	"github.com/samber/oops"
)

// Lockout defaults.
const (
	// DefaultLockoutThreshold is the number of consecutive failures that locks an account.
	DefaultLockoutThreshold = 5

	// DefaultLockoutDuration is how long a lock lasts.
	DefaultLockoutDuration = 15 * time.Minute
)

// LockState is the lockout state of an account at a point in time.
type LockState string

// Lock states.
const (
	LockStateActive LockState = "active"
	LockStateLocked LockState = "locked"
)

// LockoutPolicy tracks failed authentication attempts and locks accounts.
// Unlocking is lazy: an expired lock is cleared by the next Check rather than
// by a timer.
type LockoutPolicy struct {
	Threshold int
	Duration  time.Duration
}

// DefaultLockoutPolicy returns the policy with default threshold and duration.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{Threshold: DefaultLockoutThreshold, Duration: DefaultLockoutDuration}
}

// Validate rejects non-positive thresholds and durations.
func (p LockoutPolicy) Validate() error {
	if p.Threshold < 1 {
		return oops.Code("AUTH_LOCKOUT_MISCONFIGURED").With("threshold", p.Threshold).
			Errorf("lockout threshold must be at least 1")
	}
	if p.Duration <= 0 {
		return oops.Code("AUTH_LOCKOUT_MISCONFIGURED").With("duration", p.Duration.String()).
			Errorf("lockout duration must be positive")
	}
	return nil
}

// State returns the account's lock state at now without mutating it.
func (p LockoutPolicy) State(a *Account, now time.Time) LockState {
	if !a.Locked {
		return LockStateActive
	}
	if a.LockedUntil != nil && !now.Before(*a.LockedUntil) {
		return LockStateActive
	}
	return LockStateLocked
}

// Check runs at the start of every authentication attempt. An elapsed lock is
// cleared along with the failure counter. A lock still in force yields
// AccountLocked and leaves the counter untouched.
func (p LockoutPolicy) Check(a *Account, now time.Time) error {
	if !a.Locked {
		return nil
	}
	if p.State(a, now) == LockStateActive {
		a.Locked = false
		a.LockedUntil = nil
		a.FailedAttempts = 0
		return nil
	}
	return p.lockedError(a, now)
}

// RecordFailure applies a failed attempt. It returns true when this failure
// moved the account into the Locked state.
func (p LockoutPolicy) RecordFailure(a *Account, now time.Time) bool {
	a.FailedAttempts++
	if a.FailedAttempts < p.Threshold {
		return false
	}
	until := now.Add(p.Duration)
	a.Locked = true
	a.LockedUntil = &until
	return true
}

// RecordSuccess resets the failure counter and any lock.
func (p LockoutPolicy) RecordSuccess(a *Account) {
	a.FailedAttempts = 0
	a.Locked = false
	a.LockedUntil = nil
}

// Unlock is the administrative reset. It also lifts indefinite locks.
func (p LockoutPolicy) Unlock(a *Account) {
	p.RecordSuccess(a)
}

// Remaining returns the time left on an account's lock. Zero means the
// account is not locked or the lock has no expiry.
func (p LockoutPolicy) Remaining(a *Account, now time.Time) time.Duration {
	if p.State(a, now) != LockStateLocked || a.LockedUntil == nil {
		return 0
	}
	return a.LockedUntil.Sub(now)
}

func (p LockoutPolicy) lockedError(a *Account, now time.Time) error {
	e := oops.Code(string(KindAccountLocked)).With("account_id", a.ID.String())
	if a.LockedUntil != nil {
		e = e.With("locked_until", a.LockedUntil.UTC()).With("retry_after", p.Remaining(a, now))
	}
	return e.Errorf("account is temporarily locked")
}
