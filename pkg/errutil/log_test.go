// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/pkg/errutil"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("ACCOUNT_STALE").
		With("account_id", "01HZX").
		Errorf("version changed")

	errutil.LogError(logger, "commit failed", err)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "commit failed", entry["msg"])
	assert.Equal(t, "ACCOUNT_STALE", entry["code"])
	assert.Equal(t, map[string]any{"account_id": "01HZX"}, entry["context"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "commit failed", errors.New("connection reset"))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "connection reset")
	assert.NotContains(t, entry, "code")
}

func TestLogErrorContext_AppendsExtraAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("AUTH_LOGIN_FAILED").Errorf("store unavailable")
	errutil.LogErrorContext(context.Background(), logger, "request failed", err,
		slog.String("method", "POST"))

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "AUTH_LOGIN_FAILED", entry["code"])
	assert.Equal(t, "POST", entry["method"])
}

func TestAttrs_OmitsEmptyContext(t *testing.T) {
	attrs := errutil.Attrs(oops.Code("X").Errorf("boom"))

	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, a.Key)
	}
	assert.Equal(t, []string{"error", "code"}, keys)
}
