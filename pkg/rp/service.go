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

package rp

import (
	"fmt"
	"log/slog"
	"time"
)

// RelyingParty bundles the ceremonies and session management for a single
// relying party identity. It is safe for concurrent use.
type RelyingParty struct {
	// Registration runs attestation ceremonies.
	Registration *RegistrationCeremony

	// Authentication runs assertion ceremonies.
	Authentication *AuthenticationCeremony

	// Sessions converts ceremony outcomes into transportable sessions.
	Sessions *SessionManager

	config *Config
}

// Params contains dependencies for creating a RelyingParty.
type Params struct {
	// Config is the relying party configuration (required).
	Config *Config

	// ChallengeStore holds pending ceremony challenges. If nil, an
	// in-memory store is used.
	ChallengeStore ChallengeStore

	// CredentialStore is the user and credential persistence layer. If
	// nil, an in-memory store is used.
	CredentialStore CredentialStore

	// SessionSecret signs session tokens (required).
	SessionSecret []byte

	// SessionTTL bounds session token validity. Zero means one hour.
	SessionTTL time.Duration

	// Logger receives ceremony logs. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// New creates a RelyingParty with the provided dependencies.
func New(params Params) (*RelyingParty, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config is required")
	}

	params.Config.SetDefaults()
	if err := params.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	challenges := params.ChallengeStore
	if challenges == nil {
		challenges = NewMemoryChallengeStore()
	}
	creds := params.CredentialStore
	if creds == nil {
		mem := NewMemoryCredentialStore()
		mem.StrictSignCount = params.Config.StrictSignCount
		creds = mem
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	verifier, err := newProtocolVerifier(params.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifier: %w", err)
	}

	sessions, err := NewSessionManager(creds, params.SessionSecret, params.SessionTTL)
	if err != nil {
		return nil, err
	}

	return &RelyingParty{
		Registration: &RegistrationCeremony{
			cfg:        params.Config,
			verifier:   verifier,
			challenges: challenges,
			creds:      creds,
			logger:     logger.With("ceremony", CeremonyRegistration),
		},
		Authentication: &AuthenticationCeremony{
			cfg:        params.Config,
			verifier:   verifier,
			challenges: challenges,
			creds:      creds,
			logger:     logger.With("ceremony", CeremonyAuthentication),
		},
		Sessions: sessions,
		config:   params.Config,
	}, nil
}

// Config returns the validated configuration the relying party runs with.
func (rp *RelyingParty) Config() *Config {
	return rp.config
}
