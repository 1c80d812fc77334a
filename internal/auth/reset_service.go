// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// RequestPasswordReset issues a single-use reset token for the account
// identified by username or email, replacing any earlier one. Delivering the
// token is the caller's job. An unknown identity returns an empty token and no
// error so the response does not reveal whether the account exists.
func (s *Service) RequestPasswordReset(ctx context.Context, identifier string) (token string, err error) {
	ctx, done := s.startFlow(ctx, FlowRequestReset)
	defer func() { done(err) }()

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", errInvalidInput("identifier", "identifier is required")
	}

	err = s.commitLoop(ctx, FlowRequestReset, func(ctx context.Context) error {
		account, err := s.accounts.GetByIdentifier(ctx, identifier)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				s.logger.InfoContext(ctx, "password reset requested for unknown identity")
				token = ""
				return nil
			}
			return oops.Code("RESET_REQUEST_FAILED").With("operation", "get account by identifier").Wrap(err)
		}

		issued, digest, err := newResetToken(account.ID)
		if err != nil {
			return oops.Code("RESET_REQUEST_FAILED").With("operation", "generate reset token").Wrap(err)
		}
		expires := s.now().Add(s.resetTTL)
		account.ResetTokenHash = digest
		account.ResetExpiresAt = &expires
		if err := s.commit(ctx, account); err != nil {
			return err
		}

		s.logger.InfoContext(ctx, "password reset requested",
			"account_id", account.ID.String(),
			"expires_at", expires)
		token = issued
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword redeems a reset token. The new password is subject to the same
// strength and history rules as ChangePassword. On success the token is
// consumed, the stored session is cleared and any lockout is lifted.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, done := s.startFlow(ctx, FlowResetPassword)
	defer func() { done(err) }()

	if err = ValidatePassword(newPassword); err != nil {
		return err
	}
	id, ok := parseResetToken(token)
	if !ok {
		return errInvalidResetToken()
	}

	return s.commitLoop(ctx, FlowResetPassword, func(ctx context.Context) error {
		account, err := s.accounts.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return errInvalidResetToken()
			}
			return oops.Code("RESET_PASSWORD_FAILED").With("operation", "get account").Wrap(err)
		}
		if !account.resetValid(token, s.now()) {
			s.logger.WarnContext(ctx, "password reset rejected", "account_id", account.ID.String())
			return errInvalidResetToken()
		}

		candidates := append([]string{account.PasswordHash}, account.PasswordHistory...)
		reused, err := s.history.IsReused(newPassword, candidates)
		if err != nil {
			return oops.Code("RESET_PASSWORD_FAILED").
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

		digest, err := s.hasher.Hash(newPassword)
		if err != nil {
			return oops.Code("RESET_PASSWORD_FAILED").With("operation", "hash new password").Wrap(err)
		}

		account.PasswordHistory = s.history.Push(account.PasswordHistory, account.PasswordHash)
		account.PasswordHash = digest
		account.LastPasswordChange = s.now()
		account.ClearReset()
		account.ClearSession()
		s.lockout.RecordSuccess(account)

		if err := s.commit(ctx, account); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "password reset", "account_id", account.ID.String())
		return nil
	})
}
