// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads server configuration from an optional YAML file and
// PASSKEY_* environment variables, with environment taking precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-passkey/pkg/rp"
)

// Config is the full server configuration.
type Config struct {
	// Listen is the address the HTTP server binds to.
	Listen string `yaml:"listen" mapstructure:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`

	// LogFormat is one of text, json.
	LogFormat string `yaml:"log_format" mapstructure:"log_format"`

	// RP is the relying party configuration.
	RP rp.Config `yaml:"rp" mapstructure:"rp"`

	// Session configures session tokens and cookies.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Database configures the optional Postgres credential store. When
	// DSN is empty the server keeps everything in memory.
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`

	// RateLimit caps per-client traffic on the ceremony endpoints.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig configures the per-client limiter.
type RateLimitConfig struct {
	// Enabled turns the limiter on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// RequestsPerMinute is the sustained per-client rate.
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`

	// Burst allows short bursts above the sustained rate.
	Burst int `yaml:"burst" mapstructure:"burst"`
}

// SessionConfig configures session token issuance.
type SessionConfig struct {
	// Secret signs session tokens. Required.
	Secret string `yaml:"secret" mapstructure:"secret"`

	// TTL bounds session validity.
	TTL time.Duration `yaml:"ttl" mapstructure:"ttl"`

	// CookieSecure marks session cookies Secure.
	CookieSecure bool `yaml:"cookie_secure" mapstructure:"cookie_secure"`

	// LoginPath is where unauthenticated requests are redirected. When
	// empty, protected routes answer 401 JSON.
	LoginPath string `yaml:"login_path" mapstructure:"login_path"`
}

// DatabaseConfig configures Postgres-backed persistence.
type DatabaseConfig struct {
	// DSN is the Postgres connection string.
	DSN string `yaml:"dsn" mapstructure:"dsn"`

	// Migrate runs pending schema migrations at startup.
	Migrate bool `yaml:"migrate" mapstructure:"migrate"`
}

// Load reads configuration from path (optional, empty skips the file) and
// the PASSKEY_* environment, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("rp.id", "localhost")
	v.SetDefault("rp.display_name", "Passkey Server")
	v.SetDefault("rp.origins", []string{"http://localhost:8080"})
	v.SetDefault("rp.challenge_ttl", 2*time.Minute)
	v.SetDefault("rp.strict_sign_count", false)
	v.SetDefault("session.secret", "")
	v.SetDefault("session.ttl", time.Hour)
	v.SetDefault("session.cookie_secure", false)
	v.SetDefault("session.login_path", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrate", true)
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_minute", 60)
	v.SetDefault("rate_limit.burst", 10)

	v.SetEnvPrefix("PASSKEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.RP.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the loader cannot default away.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.Session.Secret == "" {
		return fmt.Errorf("session secret is required (PASSKEY_SESSION_SECRET)")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	return c.RP.Validate()
}

// ParseLogLevel converts a config log level string to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
