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

// Package rp implements the Relying-Party side of the WebAuthn/FIDO2
// ceremony protocol: challenge issuance and binding, credential
// registration, assertion verification, and session materialization.
//
// The package is the ceremony state machine and verification engine only.
// Cryptographic primitives (COSE parsing, signature algorithms, attestation
// formats) are consumed through the Verifier contract, implemented on top
// of github.com/go-webauthn/webauthn. Persistence is behind the
// ChallengeStore and CredentialStore contracts; in-memory implementations
// with atomic single-use and compare-and-commit semantics ship in this
// package, and a Postgres CredentialStore lives in
// internal/storage/postgres.
//
// # Ceremonies
//
// A ceremony is one begin/complete exchange. Begin mints a single-use
// challenge bound to (subject, purpose, expiry); Complete consumes the
// challenge before any other check runs, so a failed attempt can never be
// retried against the same challenge.
//
//	party, err := rp.New(rp.Params{
//	    Config: &rp.Config{
//	        RPID:          "example.com",
//	        RPDisplayName: "Example Corp",
//	        RPOrigins:     []string{"https://example.com"},
//	    },
//	    ChallengeStore:  rp.NewMemoryChallengeStore(),
//	    CredentialStore: rp.NewMemoryCredentialStore(),
//	    SessionSecret:   secret,
//	})
//
//	options, err := party.Registration.Begin(ctx, "alice@example.com", "Alice")
//	// ... client signs ...
//	user, err := party.Registration.Complete(ctx, "alice@example.com", parsed)
//
// # Security invariants
//
// Challenges are single-use: consumption is linearizable and happens first,
// even when the rest of the ceremony fails. Signature counters are
// monotonically increasing per credential; a stale counter is rejected as
// a cloned-authenticator signal. Origin and RP ID are verified against the
// immutable site configuration on every Complete.
package rp
