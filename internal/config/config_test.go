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

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PASSKEY_SESSION_SECRET", "env-secret")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "localhost", cfg.RP.RPID)
	assert.Equal(t, 2*time.Minute, cfg.RP.ChallengeTTL)
	assert.Equal(t, "env-secret", cfg.Session.Secret)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoad_MissingSecret(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session secret is required")
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
log_level: debug
log_format: json
rp:
  id: example.com
  display_name: Example Corp
  origins:
    - https://example.com
  challenge_ttl: 30s
  strict_sign_count: true
session:
  secret: file-secret
  ttl: 15m
  cookie_secure: true
  login_path: /login
database:
  dsn: postgres://localhost/passkey
  migrate: false
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "example.com", cfg.RP.RPID)
	assert.Equal(t, []string{"https://example.com"}, cfg.RP.RPOrigins)
	assert.Equal(t, 30*time.Second, cfg.RP.ChallengeTTL)
	assert.True(t, cfg.RP.StrictSignCount)
	assert.Equal(t, "file-secret", cfg.Session.Secret)
	assert.Equal(t, 15*time.Minute, cfg.Session.TTL)
	assert.True(t, cfg.Session.CookieSecure)
	assert.Equal(t, "/login", cfg.Session.LoginPath)
	assert.Equal(t, "postgres://localhost/passkey", cfg.Database.DSN)
	assert.False(t, cfg.Database.Migrate)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
session:
  secret: file-secret
`), 0o600))

	t.Setenv("PASSKEY_LISTEN", ":7000")
	t.Setenv("PASSKEY_SESSION_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Listen)
	assert.Equal(t, "env-secret", cfg.Session.Secret)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("PASSKEY_SESSION_SECRET", "secret")

	t.Setenv("PASSKEY_LOG_LEVEL", "verbose")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")

	t.Setenv("PASSKEY_LOG_LEVEL", "info")
	t.Setenv("PASSKEY_LOG_FORMAT", "xml")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log format")
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"Error", slog.LevelError},
	}
	for _, tt := range tests {
		level, err := ParseLogLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, level)
	}

	_, err := ParseLogLevel("trace")
	assert.Error(t, err)
}
