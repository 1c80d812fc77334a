// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/samber/oops"
)

// ChangePassword replaces the password of the account the access token binds
// to. The old password must verify; the new one must differ from the current
// password and from every digest in history. On success the current digest is
// pushed into history and the stored token pair is cleared, so the caller
// must log in again.
func (s *Service) ChangePassword(ctx context.Context, accessToken string, in ChangePasswordInput) (err error) {
	ctx, done := s.startFlow(ctx, FlowChangePassword)
	defer func() { done(err) }()

	if err = in.Validate(); err != nil {
		return err
	}

	return s.commitLoop(ctx, FlowChangePassword, func(ctx context.Context) error {
		principal, err := s.verifier.Verify(ctx, accessToken, AccessToken)
		if err != nil {
			return err
		}
		account := principal.Account

		valid, err := s.hasher.Verify(in.OldPassword, account.PasswordHash)
		if err != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
				With("operation", "verify current password").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		if !valid {
			return oops.Code(string(KindInvalidCredentials)).
				With("account_id", account.ID.String()).
				Errorf("current password is incorrect")
		}

		candidates := append([]string{account.PasswordHash}, account.PasswordHistory...)
		reused, err := s.history.IsReused(in.NewPassword, candidates)
		if err != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
				With("operation", "check password history").
				With("account_id", account.ID.String()).
				Wrap(err)
		}
		if reused {
			return oops.Code(string(KindPasswordReused)).
				With("account_id", account.ID.String()).
				With("history_depth", s.history.Depth()).
				Errorf("password was used recently")
		}

		digest, err := s.hasher.Hash(in.NewPassword)
		if err != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").
				With("operation", "hash new password").
				Wrap(err)
		}

		account.PasswordHistory = s.history.Push(account.PasswordHistory, account.PasswordHash)
		account.PasswordHash = digest
		account.LastPasswordChange = s.now()
		account.ClearSession()
		account.ClearReset()

		if err := s.commit(ctx, account); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "password changed", "account_id", account.ID.String())
		return nil
	})
}

// DeleteAccount removes the account the access token binds to.
func (s *Service) DeleteAccount(ctx context.Context, accessToken string) (err error) {
	ctx, done := s.startFlow(ctx, FlowDeleteAccount)
	defer func() { done(err) }()

	principal, err := s.verifier.Verify(ctx, accessToken, AccessToken)
	if err != nil {
		return err
	}
	id := principal.Account.ID

	if err = ctx.Err(); err != nil {
		return oops.Code("AUTH_DELETE_FAILED").With("account_id", id.String()).Wrap(err)
	}
	if err = s.accounts.Delete(ctx, id); err != nil {
		return oops.Code("AUTH_DELETE_FAILED").
			With("operation", "delete account").
			With("account_id", id.String()).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account deleted", "account_id", id.String())
	return nil
}

// Unlock clears the lockout state of an account identified by username or
// email. It is an administrative operation and requires no token.
func (s *Service) Unlock(ctx context.Context, identifier string) (account *Account, err error) {
	ctx, done := s.startFlow(ctx, FlowUnlock)
	defer func() { done(err) }()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, errInvalidInput("identifier", "username or email is required")
	}

	err = s.commitLoop(ctx, FlowUnlock, func(ctx context.Context) error {
		a, err := s.accounts.GetByIdentifier(ctx, identifier)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return oops.Code(string(KindNotFound)).With("identifier", identifier).Errorf("account not found")
			}
			return oops.Code("AUTH_UNLOCK_FAILED").With("operation", "get account by identifier").Wrap(err)
		}
		s.lockout.Unlock(a)
		if err := s.commit(ctx, a); err != nil {
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "account unlocked", "account_id", account.ID.String())
	return account, nil
}

// Profile returns the account the access token binds to.
func (s *Service) Profile(ctx context.Context, accessToken string) (account *Account, err error) {
	ctx, done := s.startFlow(ctx, FlowProfile)
	defer func() { done(err) }()

	principal, err := s.verifier.Verify(ctx, accessToken, AccessToken)
	if err != nil {
		return nil, err
	}
	return principal.Account, nil
}

// ChangeUsername renames the account. Usernames are unique ignoring case; a
// change of case alone is allowed. Issued tokens stay valid and carry the old
// name in their username claim until the next refresh.
func (s *Service) ChangeUsername(ctx context.Context, accessToken, username string) (*Account, error) {
	username = strings.TrimSpace(username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	var previous string
	account, err := s.mutateProfile(ctx, FlowChangeUsername, accessToken, func(a *Account) error {
		if a.Username == username {
			return errInvalidInput("username", "new username is the same as the current one")
		}
		previous = a.Username
		a.Username = username
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "username changed",
		"account_id", account.ID.String(),
		"previous_username", previous,
		"username", account.Username)
	return account, nil
}

// AddEmail adds an email address to the account. Addresses are unique across
// all accounts, ignoring case.
func (s *Service) AddEmail(ctx context.Context, accessToken, email string) (*Account, error) {
	email = NormalizeEmail(email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	return s.mutateProfile(ctx, FlowProfile, accessToken, func(a *Account) error {
		if a.HasEmail(email) {
			return oops.Code(string(KindConflict)).Errorf("email is already on this account")
		}
		if len(a.Emails) >= MaxEmails {
			return errInvalidInput("email", "an account may hold at most %d email addresses", MaxEmails)
		}
		a.Emails = append(a.Emails, email)
		return nil
	})
}

// RemoveEmail removes an email address from the account. The last address
// cannot be removed.
func (s *Service) RemoveEmail(ctx context.Context, accessToken, email string) (*Account, error) {
	email = NormalizeEmail(email)
	return s.mutateProfile(ctx, FlowProfile, accessToken, func(a *Account) error {
		if !a.HasEmail(email) {
			return oops.Code(string(KindNotFound)).Errorf("email is not on this account")
		}
		if len(a.Emails) == 1 {
			return errInvalidInput("email", "an account must keep at least one email address")
		}
		a.Emails = slices.DeleteFunc(a.Emails, func(e string) bool { return strings.EqualFold(e, email) })
		return nil
	})
}

// AddPhone adds a phone number to the account.
func (s *Service) AddPhone(ctx context.Context, accessToken, phone string) (*Account, error) {
	phone = strings.TrimSpace(phone)
	if err := ValidatePhone(phone); err != nil {
		return nil, err
	}
	return s.mutateProfile(ctx, FlowProfile, accessToken, func(a *Account) error {
		if slices.Contains(a.Phones, phone) {
			return oops.Code(string(KindConflict)).Errorf("phone number is already on this account")
		}
		if len(a.Phones) >= MaxPhones {
			return errInvalidInput("phone", "an account may hold at most %d phone numbers", MaxPhones)
		}
		a.Phones = append(a.Phones, phone)
		return nil
	})
}

// RemovePhone removes a phone number from the account.
func (s *Service) RemovePhone(ctx context.Context, accessToken, phone string) (*Account, error) {
	phone = strings.TrimSpace(phone)
	return s.mutateProfile(ctx, FlowProfile, accessToken, func(a *Account) error {
		if !slices.Contains(a.Phones, phone) {
			return oops.Code(string(KindNotFound)).Errorf("phone number is not on this account")
		}
		a.Phones = slices.DeleteFunc(a.Phones, func(p string) bool { return p == phone })
		return nil
	})
}

func (s *Service) mutateProfile(ctx context.Context, flow, accessToken string, mutate func(*Account) error) (account *Account, err error) {
	ctx, done := s.startFlow(ctx, flow)
	defer func() { done(err) }()

	err = s.commitLoop(ctx, flow, func(ctx context.Context) error {
		principal, err := s.verifier.Verify(ctx, accessToken, AccessToken)
		if err != nil {
			return err
		}
		a := principal.Account
		if err := mutate(a); err != nil {
			return err
		}
		if err := s.commit(ctx, a); err != nil {
			if errors.Is(err, ErrConflict) {
				return oops.Code(string(KindConflict)).
					With("account_id", a.ID.String()).
					Errorf("username or email is registered to another account")
			}
			return err
		}
		account = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}
