// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package logging builds the service's slog logger. Records carry the
// service name, build version and any OpenTelemetry trace context, and
// credential-bearing attributes are masked before they reach the output.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"
)

// Redacted replaces the value of any attribute whose key names a secret.
const Redacted = "[REDACTED]"

// DefaultRedactPatterns are glob patterns matched against lower-cased
// attribute keys. Options.Redact adds to them.
var DefaultRedactPatterns = []string{"*password*", "*token*", "*secret*", "authorization", "cookie", "set-cookie"}

// CompileRedactPatterns compiles glob patterns for key matching.
func CompileRedactPatterns(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(strings.ToLower(p))
		if err != nil {
			return nil, oops.Code("LOG_REDACT_PATTERN_INVALID").With("pattern", p).Wrapf(err, "redact pattern %q", p)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

var defaultRedactGlobs = func() []glob.Glob {
	globs, err := CompileRedactPatterns(DefaultRedactPatterns)
	if err != nil {
		panic(err)
	}
	return globs
}()

type redactor []glob.Glob

// newRedactor extends the defaults with extra. Invalid patterns are skipped;
// configuration validation rejects them before Setup runs.
func newRedactor(extra []string) redactor {
	r := redactor(defaultRedactGlobs)
	for _, p := range extra {
		if globs, err := CompileRedactPatterns([]string{p}); err == nil {
			r = append(r[:len(r):len(r)], globs...)
		}
	}
	return r
}

func (r redactor) matches(key string) bool {
	key = strings.ToLower(key)
	for _, g := range r {
		if g.Match(key) {
			return true
		}
	}
	return false
}

// replaceAttr is the ReplaceAttr hook for both output formats.
func (r redactor) replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() != slog.KindGroup && r.matches(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// traceHandler decorates records with service identity and trace context.
type traceHandler struct {
	next    slog.Handler
	service string
	version string
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(
		slog.String("service", h.service),
		slog.String("version", h.version),
	)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	//nolint:wrapcheck // slog.Handler passes errors through unchanged
	return h.next.Handle(ctx, r)
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs), service: h.service, version: h.version}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name), service: h.service, version: h.version}
}

// ParseLevel maps debug, info, warn and error to slog levels. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, oops.Code("LOG_LEVEL_INVALID").
		With("level", level).
		Errorf("log level must be debug, info, warn or error")
}

// Options configures Setup.
type Options struct {
	Service string
	Version string
	Format  string // "json" (default) or "text"
	Level   slog.Level
	Output  io.Writer // defaults to os.Stderr
	Redact  []string  // extra glob patterns on top of DefaultRedactPatterns
}

// Setup creates a configured slog.Logger.
func Setup(opts Options) *slog.Logger {
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: opts.Level, ReplaceAttr: newRedactor(opts.Redact).replaceAttr}

	var base slog.Handler
	if opts.Format == "text" {
		base = slog.NewTextHandler(w, hopts)
	} else {
		base = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(&traceHandler{next: base, service: opts.Service, version: opts.Version})
}

// SetDefault installs a Setup logger as the process default and returns it.
func SetDefault(opts Options) *slog.Logger {
	logger := Setup(opts)
	slog.SetDefault(logger)
	return logger
}
