// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package config defines the keyward configuration file format and loads it
// from defaults, a YAML file, KEYWARD_ environment variables and flags.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/store"
)

// Duration is a time.Duration written as a Go duration string ("15m").
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err //nolint:wrapcheck // decoder adds the key
	}
	*d = Duration(v)
	return nil
}

// MarshalText writes the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// JSONSchema describes Duration as a string in the generated schema.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration, e.g. 15m or 168h",
	}
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr         string   `koanf:"addr" jsonschema:"description=API listen address"`
	ReadTimeout  Duration `koanf:"read_timeout"`
	WriteTimeout Duration `koanf:"write_timeout"`
	CookieSecure bool     `koanf:"cookie_secure" jsonschema:"description=Mark the session cookies Secure; implied by TLS"`
	TLSCertFile  string   `koanf:"tls_cert_file" jsonschema:"description=PEM certificate; serves HTTPS when set"`
	TLSKeyFile   string   `koanf:"tls_key_file"`
}

// MetricsConfig configures the observability listener.
type MetricsConfig struct {
	Addr string `koanf:"addr" jsonschema:"description=Metrics and health listen address; empty disables"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string   `koanf:"format" jsonschema:"enum=json,enum=text"`
	Level  string   `koanf:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Redact []string `koanf:"redact" jsonschema:"description=Extra glob patterns for attribute keys to mask"`
}

// StoreConfig selects and configures the account store.
type StoreConfig struct {
	Driver         string `koanf:"driver" jsonschema:"enum=memory,enum=postgres,enum=redis"`
	DatabaseURL    string `koanf:"database_url" jsonschema:"description=PostgreSQL connection string"`
	RedisAddr      string `koanf:"redis_addr"`
	RedisPassword  string `koanf:"redis_password"`
	RedisDB        int    `koanf:"redis_db" jsonschema:"minimum=0"`
	RedisKeyPrefix string `koanf:"redis_key_prefix"`
	ConnectRetries uint64 `koanf:"connect_retries"`
}

// TokensConfig configures JWT issuance.
type TokensConfig struct {
	AccessSecret  string   `koanf:"access_secret" jsonschema:"minLength=32"`
	RefreshSecret string   `koanf:"refresh_secret" jsonschema:"minLength=32"`
	AccessTTL     Duration `koanf:"access_ttl"`
	RefreshTTL    Duration `koanf:"refresh_ttl"`
	Issuer        string   `koanf:"issuer"`
}

// LockoutConfig configures the failed-login lockout.
type LockoutConfig struct {
	Threshold int      `koanf:"threshold" jsonschema:"minimum=1"`
	Duration  Duration `koanf:"duration"`
}

// PasswordConfig configures hashing and reuse checks.
type PasswordConfig struct {
	HistoryDepth int               `koanf:"history_depth" jsonschema:"minimum=0"`
	ResetTTL     Duration          `koanf:"reset_ttl"`
	Argon2       auth.Argon2Params `koanf:"argon2"`
}

// SessionConfig configures session behavior.
type SessionConfig struct {
	ActiveSessionPolicy string `koanf:"active_session_policy" jsonschema:"enum=reject,enum=replace"`
}

// Config is the complete keyward configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Store    StoreConfig    `koanf:"store"`
	Tokens   TokensConfig   `koanf:"tokens"`
	Lockout  LockoutConfig  `koanf:"lockout"`
	Password PasswordConfig `koanf:"password"`
	Session  SessionConfig  `koanf:"session"`
}

// Default returns the built-in configuration. Token secrets are empty and
// must be supplied.
func Default() Config {
	ac := auth.DefaultConfig()
	return Config{
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  Duration(10 * time.Second),
			WriteTimeout: Duration(10 * time.Second),
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Store: StoreConfig{
			Driver:         DriverMemory,
			ConnectRetries: store.DefaultConnectRetries,
		},
		Tokens: TokensConfig{
			AccessTTL:  Duration(ac.Tokens.AccessTTL),
			RefreshTTL: Duration(ac.Tokens.RefreshTTL),
			Issuer:     ac.Tokens.Issuer,
		},
		Lockout: LockoutConfig{
			Threshold: ac.Lockout.Threshold,
			Duration:  Duration(ac.Lockout.Duration),
		},
		Password: PasswordConfig{
			HistoryDepth: ac.HistoryDepth,
			ResetTTL:     Duration(ac.ResetTTL),
			Argon2:       auth.DefaultArgon2Params(),
		},
		Session: SessionConfig{ActiveSessionPolicy: string(ac.ActiveSessionPolicy)},
	}
}

// Auth converts the configuration into the engine's Config.
func (c *Config) Auth() auth.Config {
	ac := auth.DefaultConfig()
	ac.Tokens = auth.TokenConfig{
		AccessSecret:  c.Tokens.AccessSecret,
		RefreshSecret: c.Tokens.RefreshSecret,
		AccessTTL:     c.Tokens.AccessTTL.Std(),
		RefreshTTL:    c.Tokens.RefreshTTL.Std(),
		Issuer:        c.Tokens.Issuer,
	}
	ac.Lockout = auth.LockoutPolicy{Threshold: c.Lockout.Threshold, Duration: c.Lockout.Duration.Std()}
	ac.HistoryDepth = c.Password.HistoryDepth
	ac.ResetTTL = c.Password.ResetTTL.Std()
	ac.ActiveSessionPolicy = auth.ActiveSessionPolicy(c.Session.ActiveSessionPolicy)
	return ac
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if c.HTTP.Addr == "" {
		add(errors.New("http.addr is required"))
	}
	if (c.HTTP.TLSCertFile == "") != (c.HTTP.TLSKeyFile == "") {
		add(errors.New("http.tls_cert_file and http.tls_key_file must be set together"))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		add(fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add(fmt.Errorf("log.level: %v", err))
	}
	if _, err := logging.CompileRedactPatterns(c.Log.Redact); err != nil {
		add(fmt.Errorf("log.redact: %v", err))
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			add(errors.New("store.database_url is required for the postgres driver"))
		}
	case DriverRedis:
		if c.Store.RedisAddr == "" {
			add(errors.New("store.redis_addr is required for the redis driver"))
		}
	default:
		add(fmt.Errorf("store.driver must be memory, postgres or redis, got %q", c.Store.Driver))
	}

	// Component errors carry their own codes; they are flattened to text so
	// CONFIG_INVALID stays the reported code.
	ac := c.Auth()
	if err := ac.Tokens.Validate(); err != nil {
		add(fmt.Errorf("tokens: %v", err))
	}
	if err := ac.Lockout.Validate(); err != nil {
		add(fmt.Errorf("lockout: %v", err))
	}
	if err := c.Password.Argon2.Validate(); err != nil {
		add(fmt.Errorf("password.argon2: %v", err))
	}
	if c.Password.HistoryDepth < 0 {
		add(fmt.Errorf("password.history_depth must be non-negative, got %d", c.Password.HistoryDepth))
	}
	if c.Password.ResetTTL <= 0 {
		add(fmt.Errorf("password.reset_ttl must be positive, got %s", c.Password.ResetTTL.Std()))
	}
	if !ac.ActiveSessionPolicy.Valid() {
		add(fmt.Errorf("session.active_session_policy must be 'reject' or 'replace', got %q",
			c.Session.ActiveSessionPolicy))
	}

	if len(errs) == 0 {
		return nil
	}
	return oops.Code("CONFIG_INVALID").Wrap(errors.Join(errs...))
}
