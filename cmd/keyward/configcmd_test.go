// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/config"
)

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keyward.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigSchema(t *testing.T) {
	out, err := runRoot(t, "config", "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	assert.Equal(t, config.SchemaID, schema["$id"])
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("KEYWARD_TOKENS__ACCESS_SECRET", "")
	t.Setenv("KEYWARD_TOKENS__REFRESH_SECRET", "")

	valid := writeConfig(t, `
tokens:
  access_secret: file-access-secret-0123456789abcdefghij
  refresh_secret: file-refresh-secret-0123456789abcdefghi
lockout:
  threshold: 3
`)
	out, err := runRoot(t, "config", "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "lockout:\n  treshold: 3\n"},
		{"schema type", "lockout:\n  threshold: many\n"},
		{"missing secrets", "log:\n  format: text\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runRoot(t, "config", "validate", writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestConfigValidate_MissingFile(t *testing.T) {
	_, err := runRoot(t, "config", "validate", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
