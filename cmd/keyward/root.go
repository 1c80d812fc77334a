// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/xdg"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

// NewRootCmd creates the root command for the keyward CLI.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "keyward",
		Short: "Keyward - credential and session lifecycle service",
		Long: `Keyward registers accounts, verifies passwords, issues rotating
access and refresh tokens, and locks accounts after repeated failed logins.`,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if opts.configFile == "" {
				opts.configFile = xdg.DefaultConfigFile()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"config file path (YAML, default $XDG_CONFIG_HOME/keyward/config.yaml if present)")

	cmd.AddCommand(NewServeCmd(opts))
	cmd.AddCommand(NewMigrateCmd(opts))
	cmd.AddCommand(NewAccountCmd(opts))
	cmd.AddCommand(NewConfigCmd(opts))
	cmd.AddCommand(NewCertsCmd())

	return cmd
}
