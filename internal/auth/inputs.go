// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import "strings"

// RegisterInput is the validated payload of Register.
type RegisterInput struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Password  string `json:"password"`
}

// Validate checks every field of the registration payload.
func (in RegisterInput) Validate() error {
	if err := ValidateUsername(in.Username); err != nil {
		return err
	}
	if err := ValidateName("first_name", in.FirstName); err != nil {
		return err
	}
	if err := ValidateName("last_name", in.LastName); err != nil {
		return err
	}
	if err := ValidateEmail(strings.TrimSpace(in.Email)); err != nil {
		return err
	}
	if in.Phone != "" {
		if err := ValidatePhone(in.Phone); err != nil {
			return err
		}
	}
	return ValidatePassword(in.Password)
}

// LoginInput is the payload of Login. Identifier is a username or an email address.
type LoginInput struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// Validate rejects missing fields.
func (in LoginInput) Validate() error {
	if strings.TrimSpace(in.Identifier) == "" {
		return errInvalidInput("identifier", "username or email is required")
	}
	if in.Password == "" {
		return errInvalidInput("password", "password is required")
	}
	return nil
}

// ChangePasswordInput is the payload of ChangePassword. ConfirmPassword is
// optional; when present it must equal NewPassword.
type ChangePasswordInput struct {
	OldPassword     string `json:"old_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password,omitempty"`
}

// Validate checks presence, confirmation and strength of the new password.
func (in ChangePasswordInput) Validate() error {
	if in.OldPassword == "" {
		return errInvalidInput("old_password", "current password is required")
	}
	if in.ConfirmPassword != "" && in.ConfirmPassword != in.NewPassword {
		return errInvalidInput("confirm_password", "password and confirm password do not match")
	}
	return ValidatePassword(in.NewPassword)
}
