// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/config"
)

// NewAccountCmd creates the account administration subcommand.
func NewAccountCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Administer accounts",
	}

	unlock := &cobra.Command{
		Use:   "unlock <username-or-email>",
		Short: "Clear the lockout and failed attempt counter of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runUnlock(cmd, cfg, args[0], nil)
		},
	}
	addStoreFlags(unlock)
	cmd.AddCommand(unlock)

	resetToken := &cobra.Command{
		Use:   "reset-token <username-or-email>",
		Short: "Issue a single-use password reset token",
		Long: `Issue a password reset token and print it. Deliver it to the account
owner, who redeems it with POST /api/v1/auth/password-reset. Issuing a new
token invalidates any earlier one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runResetToken(cmd, cfg, args[0], nil)
		},
	}
	addStoreFlags(resetToken)
	cmd.AddCommand(resetToken)

	return cmd
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store-driver", config.Default().Store.Driver, "account store (memory, postgres, redis)")
	cmd.Flags().String("database-url", "", "PostgreSQL connection string")
	cmd.Flags().String("redis-addr", "", "Redis address")
}

// withService opens the configured store, builds the service and runs fn.
func withService(cmd *cobra.Command, cfg *config.Config, deps *ServeDeps, fn func(*auth.Service) error) error {
	deps = deps.withDefaults()
	logger := newLogger(cfg)

	accounts, err := deps.AccountStoreFactory(cmd.Context(), cfg.Store, logger)
	if err != nil {
		return err
	}
	defer accounts.Close()

	svc, err := newService(cfg, accounts.Accounts, logger)
	if err != nil {
		return err
	}
	return fn(svc)
}

func runUnlock(cmd *cobra.Command, cfg *config.Config, identifier string, deps *ServeDeps) error {
	return withService(cmd, cfg, deps, func(svc *auth.Service) error {
		account, err := svc.Unlock(cmd.Context(), identifier)
		if err != nil {
			return err
		}
		cmd.Printf("Unlocked %s (%s)\n", account.Username, account.ID)
		return nil
	})
}

func runResetToken(cmd *cobra.Command, cfg *config.Config, identifier string, deps *ServeDeps) error {
	return withService(cmd, cfg, deps, func(svc *auth.Service) error {
		token, err := svc.RequestPasswordReset(cmd.Context(), identifier)
		if err != nil {
			return err
		}
		if token == "" {
			return oops.Code(string(auth.KindNotFound)).
				With("identifier", identifier).
				Errorf("no account matches %q", identifier)
		}
		cmd.Printf("Reset token (valid for %s):\n%s\n", cfg.Password.ResetTTL.Std(), token)
		return nil
	})
}
