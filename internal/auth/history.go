// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import "github.com/samber/oops"

// DefaultHistoryDepth is the number of prior password digests retained.
const DefaultHistoryDepth = 5

// HistoryGuard rejects reuse of recent passwords.
type HistoryGuard struct {
	hasher PasswordHasher
	depth  int
}

// NewHistoryGuard creates a HistoryGuard retaining depth prior digests.
func NewHistoryGuard(hasher PasswordHasher, depth int) (*HistoryGuard, error) {
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if depth < 1 {
		return nil, oops.Code("AUTH_HISTORY_MISCONFIGURED").
			With("depth", depth).
			Errorf("password history depth must be at least 1")
	}
	return &HistoryGuard{hasher: hasher, depth: depth}, nil
}

// Depth returns the configured history depth.
func (g *HistoryGuard) Depth() int {
	return g.depth
}

// IsReused reports whether candidate verifies against any digest in history.
// Digests are salted, so each entry is checked with the hasher rather than
// compared as strings.
func (g *HistoryGuard) IsReused(candidate string, history []string) (bool, error) {
	for i, digest := range history {
		match, err := g.hasher.Verify(candidate, digest)
		if err != nil {
			return false, oops.Code("AUTH_HISTORY_CHECK_FAILED").With("index", i).Wrap(err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// Push returns a new history with digest as the most recent entry, truncated
// to the configured depth. The input slice is not modified.
func (g *HistoryGuard) Push(history []string, digest string) []string {
	n := min(len(history)+1, g.depth)
	out := make([]string, 0, n)
	out = append(out, digest)
	for _, d := range history {
		if len(out) == n {
			break
		}
		out = append(out, d)
	}
	return out
}
