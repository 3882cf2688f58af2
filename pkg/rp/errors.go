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
)

// Sentinel errors for ceremony rejections. Every rejection is terminal for
// the current ceremony attempt; the caller must begin again with a fresh
// challenge.
var (
	// ErrInvalidChallenge is returned when the client-echoed challenge is
	// unknown, already consumed, or bound to a different subject/purpose.
	ErrInvalidChallenge = errors.New("invalid challenge")

	// ErrChallengeExpired is returned when the challenge exists but its
	// TTL has passed. The challenge is purged either way.
	ErrChallengeExpired = errors.New("challenge expired")

	// ErrOriginMismatch is returned when the signed client data's origin
	// or RP ID hash does not match the site configuration.
	ErrOriginMismatch = errors.New("origin mismatch")

	// ErrMalformedAttestation is returned when the attestation object
	// cannot be decoded or fails structural validation.
	ErrMalformedAttestation = errors.New("malformed attestation")

	// ErrMalformedAssertion is returned when the assertion cannot be
	// decoded or fails structural validation.
	ErrMalformedAssertion = errors.New("malformed assertion")

	// ErrUnsupportedAlgorithm is returned when the credential's public key
	// algorithm is not in the accepted set advertised at Begin.
	ErrUnsupportedAlgorithm = errors.New("unsupported key algorithm")

	// ErrAlreadyRegistered is returned when the credential ID is already
	// registered, for any user.
	ErrAlreadyRegistered = errors.New("credential already registered")

	// ErrUnknownUser is returned when no user exists for the given email
	// or user handle.
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnknownCredential is returned when the credential does not exist
	// or is not owned by the claimed user.
	ErrUnknownCredential = errors.New("unknown credential")

	// ErrBadSignature is returned when the assertion signature does not
	// verify against the stored public key.
	ErrBadSignature = errors.New("bad signature")

	// ErrCounterRegression is returned when the authenticator-reported
	// signature counter is not strictly greater than the stored value.
	// This is the cloned-authenticator defense and is never best-effort.
	ErrCounterRegression = errors.New("signature counter regression")
)

// CeremonyError wraps a rejection with the operation that produced it.
type CeremonyError struct {
	Op  string // operation that failed
	Err error  // underlying rejection
}

// Error returns the error message.
func (e *CeremonyError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CeremonyError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches.
func (e *CeremonyError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapErr wraps an error with an operation name if it is not nil.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CeremonyError{Op: op, Err: err}
}

// IsRejection reports whether err is one of the ceremony rejection
// sentinels, as opposed to a storage or configuration failure. Storage
// failures are fatal for the request and must surface as 5xx.
func IsRejection(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidChallenge,
		ErrChallengeExpired,
		ErrOriginMismatch,
		ErrMalformedAttestation,
		ErrMalformedAssertion,
		ErrUnsupportedAlgorithm,
		ErrAlreadyRegistered,
		ErrUnknownUser,
		ErrUnknownCredential,
		ErrBadSignature,
		ErrCounterRegression,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// IsEnumerationSensitive reports whether err must be collapsed into a
// generic "authentication failed" response so callers cannot probe which
// check failed.
func IsEnumerationSensitive(err error) bool {
	return errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, ErrUnknownCredential) ||
		errors.Is(err, ErrBadSignature)
}
