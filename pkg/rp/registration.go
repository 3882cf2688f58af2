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
	"errors"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// RegistrationCeremony orchestrates credential registration. It is a
// stateless orchestrator over the challenge and credential stores; every
// Complete gate fails closed with no partial commit.
type RegistrationCeremony struct {
	cfg        *Config
	verifier   Verifier
	challenges ChallengeStore
	creds      CredentialStore
	logger     *slog.Logger
}

// Begin starts a registration ceremony for the given email. The email does
// not have to be unique yet; uniqueness of the credential is enforced at
// commit. Existing users get their registered credentials as an exclusion
// list so one authenticator is not registered twice. Begin has no side
// effect on the credential store.
func (c *RegistrationCeremony) Begin(ctx context.Context, email, displayName string) (result *protocol.CredentialCreation, err error) {
	start := time.Now()
	defer func() { recordCeremony(CeremonyRegistration, PhaseBegin, start, err) }()

	user, err := c.creds.FindUser(ctx, email)
	switch {
	case err == nil:
	case errors.Is(err, ErrUnknownUser):
		// Pending user; persisted only when the ceremony completes.
		user = NewUser(email, displayName)
		err = nil
	default:
		return nil, wrapErr("find user", err)
	}

	exclusions := make([]protocol.CredentialDescriptor, len(user.Credentials))
	for i, cred := range user.Credentials {
		exclusions[i] = cred.descriptor()
	}

	options, session, err := c.verifier.BeginRegistration(user, webauthn.WithExclusions(exclusions))
	if err != nil {
		return nil, wrapErr("begin registration", err)
	}

	ch := &Challenge{
		Value:       session.Challenge,
		Purpose:     PurposeRegistration,
		Subject:     email,
		Handle:      user.WebAuthnID(),
		DisplayName: user.DisplayName,
		Session:     *session,
		ExpiresAt:   time.Now().Add(c.cfg.ChallengeTTL),
	}
	if err := c.challenges.Issue(ctx, ch); err != nil {
		return nil, wrapErr("issue challenge", err)
	}

	c.logger.Debug("registration ceremony started", "email", email)
	return options, nil
}

// Complete finishes a registration ceremony. Gates, in order, each
// terminal: challenge consumption and binding, attestation verification
// (origin, RP ID hash, signature), accepted-algorithm check, and the
// duplicate-credential check at commit. The challenge is consumed before
// anything else, so a failed attempt cannot be retried against it.
func (c *RegistrationCeremony) Complete(ctx context.Context, email string, response *protocol.ParsedCredentialCreationData) (user *User, err error) {
	start := time.Now()
	defer func() { recordCeremony(CeremonyRegistration, PhaseComplete, start, err) }()
	defer func() {
		if err != nil {
			c.logger.Info("registration rejected", "email", email, "reason", err)
		}
	}()

	if response == nil {
		return nil, wrapErr("complete registration", ErrMalformedAttestation)
	}

	ch, err := c.challenges.Consume(ctx, response.Response.CollectedClientData.Challenge)
	if err != nil {
		return nil, wrapErr("consume challenge", err)
	}
	if ch.Purpose != PurposeRegistration || ch.Subject != email {
		return nil, wrapErr("challenge binding", ErrInvalidChallenge)
	}

	pending, err := userFromChallenge(ch)
	if err != nil {
		return nil, wrapErr("challenge handle", ErrInvalidChallenge)
	}

	verified, err := c.verifier.VerifyRegistration(pending, ch.Session, response)
	if err != nil {
		return nil, err
	}

	alg, err := credentialAlgorithm(verified.PublicKey)
	if err != nil {
		return nil, err
	}
	if !c.cfg.AcceptsAlgorithm(alg) {
		return nil, wrapErr("algorithm gate", ErrUnsupportedAlgorithm)
	}

	user, err = c.creds.Register(ctx, pending, newCredential(pending.ID, verified))
	if err != nil {
		return nil, wrapErr("register credential", err)
	}

	c.logger.Info("credential registered", "email", user.Email, "user_id", user.ID)
	return user, nil
}

// userFromChallenge rebuilds the pending user captured at Begin. The
// verification layer requires the user handle to match the one embedded in
// the minted session.
func userFromChallenge(ch *Challenge) (*User, error) {
	id, err := uuid.FromBytes(ch.Handle)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:          id,
		Email:       ch.Subject,
		DisplayName: ch.DisplayName,
	}, nil
}
