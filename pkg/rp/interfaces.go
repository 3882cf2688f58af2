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
	"context"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// ChallengeStore tracks short-lived, single-use ceremony challenges. It is
// the only component permitted to mark a challenge consumed.
type ChallengeStore interface {
	// Issue persists a new challenge, stamping IssuedAt and, when unset,
	// ExpiresAt.
	Issue(ctx context.Context, ch *Challenge) error

	// Consume atomically looks up and removes the challenge matching
	// value. At most one concurrent caller may succeed; the rest observe
	// ErrInvalidChallenge. A challenge found past its expiry is removed
	// and reported as ErrChallengeExpired without allowing verification
	// to proceed.
	Consume(ctx context.Context, value string) (*Challenge, error)
}

// CredentialStore is the durable mapping from user identity to registered
// credentials. It exclusively owns all User and Credential records.
type CredentialStore interface {
	// FindUser retrieves a user by email. Returns ErrUnknownUser if
	// absent.
	FindUser(ctx context.Context, email string) (*User, error)

	// FindUserByHandle retrieves a user by WebAuthn user handle. Returns
	// ErrUnknownUser if absent.
	FindUserByHandle(ctx context.Context, handle []byte) (*User, error)

	// FindCredential retrieves a credential by its ID. Returns
	// ErrUnknownCredential if absent.
	FindCredential(ctx context.Context, credID []byte) (*Credential, error)

	// Register creates the user if absent (keeping the pending user's
	// handle) and attaches the credential. Returns ErrAlreadyRegistered
	// if the credential ID exists for any user; of two concurrent
	// registrations of the same credential ID exactly one succeeds.
	Register(ctx context.Context, user *User, cred *Credential) (*User, error)

	// BumpCounter commits newCount iff it is strictly greater than the
	// stored counter, or both are zero under the documented
	// counter-less-authenticator policy. Returns ErrCounterRegression
	// otherwise. Linearizable per credential ID.
	BumpCounter(ctx context.Context, credID []byte, newCount uint32) error
}

// Verifier is the black-box cryptographic contract the ceremonies consume:
// option/challenge minting plus attestation and assertion verification.
// The production implementation wraps github.com/go-webauthn/webauthn; the
// ceremonies never touch COSE, CBOR, or curve math themselves.
type Verifier interface {
	// BeginRegistration mints creation options and the session data
	// (challenge bytes, >= 16 random bytes) the completion step verifies
	// against.
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)

	// BeginLogin mints assertion options scoped to the user's registered
	// credentials.
	BeginLogin(user webauthn.User) (*protocol.CredentialAssertion, *webauthn.SessionData, error)

	// VerifyRegistration validates the attestation response: challenge
	// echo, origin, RP ID hash, and attestation signature. Failures map
	// onto the ceremony taxonomy (ErrOriginMismatch,
	// ErrMalformedAttestation).
	VerifyRegistration(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)

	// VerifyAssertion validates the assertion response: challenge echo,
	// origin, RP ID hash, and signature over authenticator data. Failures
	// map onto ErrOriginMismatch and ErrBadSignature.
	VerifyAssertion(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}
