// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
)

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time      uint32 `koanf:"time"`
	MemoryKiB uint32 `koanf:"memory_kib"`
	Threads   uint8  `koanf:"threads"`
	SaltLen   uint32 `koanf:"salt_length"`
	KeyLen    uint32 `koanf:"key_length"`
}

// Upper bounds on argon2 cost, applied to configured parameters and to the
// parameters read back from a stored digest.
const (
	MaxArgon2MemoryKiB = 4 * 1024 * 1024
	MaxArgon2Time      = 64
)

// DefaultArgon2Params returns the OWASP-recommended argon2id parameters.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:      1,
		MemoryKiB: 64 * 1024,
		Threads:   4,
		SaltLen:   16,
		KeyLen:    32,
	}
}

// Validate rejects parameter sets argon2 cannot run with or that produce
// trivially weak digests.
func (p Argon2Params) Validate() error {
	switch {
	case p.Time < 1 || p.Time > MaxArgon2Time:
		return oops.Code("AUTH_HASHER_MISCONFIGURED").Errorf("argon2 time must be between 1 and %d", MaxArgon2Time)
	case p.Threads < 1:
		return oops.Code("AUTH_HASHER_MISCONFIGURED").Errorf("argon2 threads must be at least 1")
	case p.MemoryKiB < 8*uint32(p.Threads):
		return oops.Code("AUTH_HASHER_MISCONFIGURED").
			With("memory_kib", p.MemoryKiB).
			Errorf("argon2 memory must be at least 8 KiB per thread")
	case p.MemoryKiB > MaxArgon2MemoryKiB:
		return oops.Code("AUTH_HASHER_MISCONFIGURED").
			With("memory_kib", p.MemoryKiB).
			Errorf("argon2 memory must be at most %d KiB", MaxArgon2MemoryKiB)
	case p.SaltLen < 8:
		return oops.Code("AUTH_HASHER_MISCONFIGURED").Errorf("argon2 salt length must be at least 8 bytes")
	case p.KeyLen < 16:
		return oops.Code("AUTH_HASHER_MISCONFIGURED").Errorf("argon2 key length must be at least 16 bytes")
	}
	return nil
}

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash produces a salted digest of the password.
	Hash(password string) (string, error)

	// Verify checks if the password matches the digest.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on invalid digest.
	Verify(password, digest string) (bool, error)

	// NeedsRehash returns true if the digest was produced with parameters
	// other than the hasher's current ones.
	NeedsRehash(digest string) bool
}

// Argon2idHasher implements PasswordHasher using argon2id.
type Argon2idHasher struct {
	params Argon2Params
	prefix string
}

// NewArgon2idHasher creates an Argon2idHasher with validated parameters.
func NewArgon2idHasher(params Argon2Params) (*Argon2idHasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Argon2idHasher{
		params: params,
		prefix: fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$",
			argon2.Version, params.MemoryKiB, params.Time, params.Threads),
	}, nil
}

// Hash produces an argon2id PHC string:
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func (h *Argon2idHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.Code("AUTH_SALT_FAILED").Wrap(err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKiB, h.params.Threads, h.params.KeyLen)

	return h.prefix +
		base64.RawStdEncoding.EncodeToString(salt) + "$" +
		base64.RawStdEncoding.EncodeToString(key), nil
}

// Verify checks if the password matches the digest.
func (h *Argon2idHasher) Verify(password, digest string) (bool, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash format")
	}

	if parts[1] != "argon2id" {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported hash algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if version != argon2.Version {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("unsupported argon2 version: %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}

	if threads == 0 || threads > 255 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("threads value %d out of range", threads)
	}
	if time < 1 || time > MaxArgon2Time {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("time value %d out of range", time)
	}
	if memory < 8*threads || memory > MaxArgon2MemoryKiB {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("memory value %d out of range", memory)
	}

	keyLen := len(expected)
	if keyLen == 0 || keyLen > 1<<10 {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("invalid hash key length: %d", keyLen)
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(keyLen))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsRehash returns true if digest is not an argon2id digest produced with
// this hasher's parameters.
func (h *Argon2idHasher) NeedsRehash(digest string) bool {
	return !strings.HasPrefix(digest, h.prefix)
}
