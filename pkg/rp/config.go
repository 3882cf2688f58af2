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
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
)

// Config is the immutable site configuration every ceremony is bound to.
// It is created once at process start and never mutated.
type Config struct {
	// RPID is the Relying Party identifier, typically the domain name.
	// Example: "example.com"
	RPID string `yaml:"id" json:"id" mapstructure:"id"`

	// RPDisplayName is the human-readable name of the Relying Party.
	RPDisplayName string `yaml:"display_name" json:"display_name" mapstructure:"display_name"`

	// RPOrigins are the allowed origins (scheme+host+port). Every
	// attestation and assertion is verified against this set; a mismatch
	// is the phishing signal and rejects the ceremony.
	RPOrigins []string `yaml:"origins" json:"origins" mapstructure:"origins"`

	// ChallengeTTL bounds the window between Begin and Complete. It must
	// be short enough to limit brute forcing but long enough for user
	// interaction; the recommended range is 60-300 seconds.
	// Default: 120s.
	ChallengeTTL time.Duration `yaml:"challenge_ttl" json:"challenge_ttl" mapstructure:"challenge_ttl"`

	// AcceptedAlgorithms is the set of COSE public key algorithms the RP
	// accepts. Credentials registered with any other algorithm are
	// rejected. Default: ES256, EdDSA, RS256.
	AcceptedAlgorithms []webauthncose.COSEAlgorithmIdentifier `yaml:"accepted_algorithms" json:"accepted_algorithms" mapstructure:"accepted_algorithms"`

	// StrictSignCount rejects assertions whose reported counter is zero
	// when the stored counter is also zero. The zero value allows 0 -> 0,
	// which is the documented policy for authenticators that never
	// implement a counter; it is an explicit exception, not a bypass of
	// the regression check for counters that have ever advanced.
	StrictSignCount bool `yaml:"strict_sign_count" json:"strict_sign_count" mapstructure:"strict_sign_count"`

	// UserVerification specifies the user verification requirement.
	// Options: "required", "preferred", "discouraged". Default: "preferred".
	UserVerification string `yaml:"user_verification" json:"user_verification" mapstructure:"user_verification"`

	// AttestationPreference specifies the attestation conveyance
	// preference. Options: "none", "indirect", "direct". Default: "none".
	AttestationPreference string `yaml:"attestation" json:"attestation" mapstructure:"attestation"`

	// Debug enables debug logging in the verification layer.
	Debug bool `yaml:"debug" json:"debug" mapstructure:"debug"`
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.RPID == "" {
		return fmt.Errorf("RPID is required")
	}
	if c.RPDisplayName == "" {
		return fmt.Errorf("RPDisplayName is required")
	}
	if len(c.RPOrigins) == 0 {
		return fmt.Errorf("at least one RPOrigin is required")
	}
	if c.ChallengeTTL < 0 {
		return fmt.Errorf("negative challenge TTL")
	}

	switch c.UserVerification {
	case "", "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid user verification: %s", c.UserVerification)
	}

	switch c.AttestationPreference {
	case "", "none", "indirect", "direct":
	default:
		return fmt.Errorf("invalid attestation preference: %s", c.AttestationPreference)
	}

	return nil
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = 2 * time.Minute
	}
	if len(c.AcceptedAlgorithms) == 0 {
		c.AcceptedAlgorithms = []webauthncose.COSEAlgorithmIdentifier{
			webauthncose.AlgES256,
			webauthncose.AlgEdDSA,
			webauthncose.AlgRS256,
		}
	}
	if c.UserVerification == "" {
		c.UserVerification = "preferred"
	}
	if c.AttestationPreference == "" {
		c.AttestationPreference = "none"
	}
}

// AcceptsAlgorithm reports whether alg is in the accepted set.
func (c *Config) AcceptsAlgorithm(alg webauthncose.COSEAlgorithmIdentifier) bool {
	for _, accepted := range c.AcceptedAlgorithms {
		if alg == accepted {
			return true
		}
	}
	return false
}

// toWebAuthnConfig converts the Config to the go-webauthn configuration.
func (c *Config) toWebAuthnConfig() *webauthn.Config {
	cfg := &webauthn.Config{
		RPID:          c.RPID,
		RPDisplayName: c.RPDisplayName,
		RPOrigins:     c.RPOrigins,
		Debug:         c.Debug,
	}

	if c.ChallengeTTL > 0 {
		cfg.Timeouts = webauthn.TimeoutsConfig{
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    c.ChallengeTTL,
				TimeoutUVD: c.ChallengeTTL,
			},
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    c.ChallengeTTL,
				TimeoutUVD: c.ChallengeTTL,
			},
		}
	}

	switch c.AttestationPreference {
	case "none":
		cfg.AttestationPreference = protocol.PreferNoAttestation
	case "indirect":
		cfg.AttestationPreference = protocol.PreferIndirectAttestation
	case "direct":
		cfg.AttestationPreference = protocol.PreferDirectAttestation
	}

	cfg.AuthenticatorSelection = protocol.AuthenticatorSelection{}

	switch c.UserVerification {
	case "required":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationRequired
	case "preferred":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationPreferred
	case "discouraged":
		cfg.AuthenticatorSelection.UserVerification = protocol.VerificationDiscouraged
	}

	return cfg
}
