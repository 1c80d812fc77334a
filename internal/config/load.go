// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package config

import (
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix marks environment variables read by Load. A double underscore
// separates nesting levels: KEYWARD_TOKENS__ACCESS_SECRET sets
// tokens.access_secret.
const EnvPrefix = "KEYWARD_"

// FlagKeys maps command-line flags to configuration keys. Only flags the
// user actually set override the lower layers.
var FlagKeys = map[string]string{
	"http-addr":             "http.addr",
	"metrics-addr":          "metrics.addr",
	"log-format":            "log.format",
	"log-level":             "log.level",
	"store-driver":          "store.driver",
	"database-url":          "store.database_url",
	"redis-addr":            "store.redis_addr",
	"active-session-policy": "session.active_session_policy",
}

// RegisterFlags adds the FlagKeys flags to fs with defaults taken from
// Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("http-addr", d.HTTP.Addr, "API listen address")
	fs.String("metrics-addr", d.Metrics.Addr, "metrics/health listen address (empty = disabled)")
	fs.String("log-format", d.Log.Format, "log format (json or text)")
	fs.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	fs.String("store-driver", d.Store.Driver, "account store (memory, postgres, redis)")
	fs.String("database-url", "", "PostgreSQL connection string")
	fs.String("redis-addr", "", "Redis address")
	fs.String("active-session-policy", d.Session.ActiveSessionPolicy, "login with an active session: reject or replace")
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// envValue maps a variable to its config key. Empty variables are skipped so
// they cannot blank a value set by the file.
func envValue(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	return envKey(key), value
}

// Load builds the configuration from Default, then the YAML file at path
// (skipped when empty), then the environment, then changed flags in fs
// (skipped when nil). The result is validated.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg, err := load(path, fs)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that need only part of the
// configuration.
func Read(path string, fs *pflag.FlagSet) (*Config, error) {
	return load(path, fs)
}

func load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "environment").Wrap(err)
	}
	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := FlagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			WeaklyTypedInput: true,
			TagName:          "koanf",
			Result:           &cfg,
		},
	})
	if err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return &cfg, nil
}
