// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	keytls "github.com/keyward/keyward/internal/tls"
)

func TestRunCertsGenerate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "certs")
	now := time.Now()

	cmd := newMockCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	require.NoError(t, runCertsGenerate(cmd, &certsOptions{dir: dir, hosts: []string{"auth.local"}}, now))

	assert.Contains(t, out.String(), keytls.ServerCertFile)
	assert.NotContains(t, out.String(), "existing CA")
	first, err := keytls.LoadCA(dir)
	require.NoError(t, err)

	cfg, err := keytls.ServerConfig(filepath.Join(dir, keytls.ServerCertFile), filepath.Join(dir, keytls.ServerKeyFile))
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)

	// A second run reissues the server certificate under the same CA.
	out.Reset()
	require.NoError(t, runCertsGenerate(cmd, &certsOptions{dir: dir, hosts: []string{"auth.local"}}, now))
	assert.Contains(t, out.String(), "existing CA")
	second, err := keytls.LoadCA(dir)
	require.NoError(t, err)
	assert.True(t, first.Certificate.Equal(second.Certificate))
}

func TestRunCertsGenerate_DefaultDir(t *testing.T) {
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", base)

	require.NoError(t, runCertsGenerate(newMockCmd(), &certsOptions{hosts: []string{"localhost"}}, time.Now()))

	_, err := os.Stat(filepath.Join(base, "keyward", "certs", keytls.ServerCertFile))
	assert.NoError(t, err)
}

func TestRunCertsGenerate_CorruptCA(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, keytls.CACertFile), []byte("junk"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, keytls.CAKeyFile), []byte("junk"), 0o600))

	err := runCertsGenerate(newMockCmd(), &certsOptions{dir: dir, hosts: []string{"localhost"}}, time.Now())
	require.Error(t, err)
}
