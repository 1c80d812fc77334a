// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	keytls "github.com/keyward/keyward/internal/tls"
	"github.com/keyward/keyward/internal/xdg"
)

type certsOptions struct {
	dir   string
	hosts []string
}

// NewCertsCmd creates the certs subcommand.
func NewCertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certs",
		Short: "Manage development TLS certificates",
	}

	opts := &certsOptions{}
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a server certificate for the API listener",
		Long: `Generate a server certificate signed by a local CA. An existing CA in the
directory is reused, otherwise a new one is created. Point http.tls_cert_file
and http.tls_key_file at the written server.crt and server.key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCertsGenerate(cmd, opts, time.Now())
		},
	}
	generate.Flags().StringVar(&opts.dir, "dir", "", "output directory (default $XDG_CONFIG_HOME/keyward/certs)")
	generate.Flags().StringSliceVar(&opts.hosts, "host", []string{"localhost", "127.0.0.1"}, "DNS name or IP for the certificate (repeatable)")
	cmd.AddCommand(generate)

	return cmd
}

func runCertsGenerate(cmd *cobra.Command, opts *certsOptions, now time.Time) error {
	dir := opts.dir
	if dir == "" {
		dir = xdg.CertsDir()
	}

	ca, err := keytls.LoadCA(dir)
	switch {
	case err == nil:
		cmd.Printf("Using existing CA in %s\n", dir)
	case errors.Is(err, fs.ErrNotExist):
		if ca, err = keytls.GenerateCA(now); err != nil {
			return err
		}
	default:
		return err
	}

	server, err := keytls.GenerateServerCert(ca, opts.hosts, now)
	if err != nil {
		return err
	}
	if err := keytls.SaveCertificates(dir, ca, server); err != nil {
		return err
	}

	cmd.Printf("Wrote %s and %s\n",
		filepath.Join(dir, keytls.ServerCertFile),
		filepath.Join(dir, keytls.ServerKeyFile))
	cmd.Printf("Trust %s in clients.\n", filepath.Join(dir, keytls.CACertFile))
	return nil
}
