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
	"errors"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
)

// protocolVerifier implements Verifier on top of go-webauthn. It is the
// only place in the package that talks to the cryptographic layer, and the
// only place protocol-level failures are mapped onto the ceremony
// taxonomy.
type protocolVerifier struct {
	wa *webauthn.WebAuthn
}

// newProtocolVerifier builds the production Verifier from the site
// configuration.
func newProtocolVerifier(cfg *Config) (*protocolVerifier, error) {
	wa, err := webauthn.New(cfg.toWebAuthnConfig())
	if err != nil {
		return nil, fmt.Errorf("webauthn instance: %w", err)
	}
	return &protocolVerifier{wa: wa}, nil
}

func (v *protocolVerifier) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	return v.wa.BeginRegistration(user, opts...)
}

func (v *protocolVerifier) BeginLogin(user webauthn.User) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	return v.wa.BeginLogin(user)
}

func (v *protocolVerifier) VerifyRegistration(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	cred, err := v.wa.CreateCredential(user, session, response)
	if err != nil {
		return nil, classifyProtocolError(err, ErrMalformedAttestation)
	}
	return cred, nil
}

func (v *protocolVerifier) VerifyAssertion(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	cred, err := v.wa.ValidateLogin(user, session, response)
	if err != nil {
		return nil, classifyProtocolError(err, ErrBadSignature)
	}
	return cred, nil
}

// classifyProtocolError maps a go-webauthn verification failure onto the
// ceremony taxonomy. The protocol layer reports origin, RP ID hash,
// challenge, and signature failures through *protocol.Error; anything it
// cannot attribute falls back to the ceremony-specific malformed/signature
// sentinel.
func classifyProtocolError(err error, fallback error) error {
	var pe *protocol.Error
	if !errors.As(err, &pe) {
		return &CeremonyError{Op: "verify", Err: fallback}
	}

	detail := strings.ToLower(pe.Type + " " + pe.Details + " " + pe.DevInfo)
	mapped := fallback
	switch {
	case strings.Contains(detail, "origin"),
		strings.Contains(detail, "rp id"),
		strings.Contains(detail, "rpid"),
		strings.Contains(detail, "rp hash"):
		mapped = ErrOriginMismatch
	case strings.Contains(detail, "challenge"):
		mapped = ErrInvalidChallenge
	case strings.Contains(detail, "signature"):
		mapped = ErrBadSignature
	case strings.Contains(detail, "algorithm"):
		mapped = ErrUnsupportedAlgorithm
	}
	return &CeremonyError{Op: pe.Details, Err: mapped}
}

// credentialAlgorithm extracts the COSE algorithm from the credential's
// public key for the accepted-algorithms gate.
func credentialAlgorithm(publicKey []byte) (webauthncose.COSEAlgorithmIdentifier, error) {
	parsed, err := webauthncose.ParsePublicKey(publicKey)
	if err != nil {
		return 0, wrapErr("parse public key", ErrUnsupportedAlgorithm)
	}

	switch key := parsed.(type) {
	case webauthncose.EC2PublicKeyData:
		return webauthncose.COSEAlgorithmIdentifier(key.Algorithm), nil
	case webauthncose.OKPPublicKeyData:
		return webauthncose.COSEAlgorithmIdentifier(key.Algorithm), nil
	case webauthncose.RSAPublicKeyData:
		return webauthncose.COSEAlgorithmIdentifier(key.Algorithm), nil
	default:
		return 0, wrapErr("unknown key type", ErrUnsupportedAlgorithm)
	}
}
