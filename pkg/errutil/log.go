// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package errutil logs and asserts on samber/oops errors.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Attrs returns the structured form of err: its message plus, for oops
// errors, the code and context map.
func Attrs(err error) []slog.Attr {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []slog.Attr{slog.Any("error", err)}
	}
	attrs := []slog.Attr{slog.String("error", oopsErr.Error())}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, slog.Any("code", code))
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, slog.Any("context", ctx))
	}
	return attrs
}

// LogError logs err at Error level with its oops code and context.
func LogError(logger *slog.Logger, msg string, err error) {
	LogErrorContext(context.Background(), logger, msg, err)
}

// LogErrorContext is LogError with a context for trace correlation and
// extra attributes appended after the error's own.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error, extra ...slog.Attr) {
	logger.LogAttrs(ctx, slog.LevelError, msg, append(Attrs(err), extra...)...)
}
