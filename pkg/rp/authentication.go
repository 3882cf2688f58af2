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
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// AuthenticationCeremony orchestrates assertion verification. Like the
// registration ceremony it holds no state of its own; the challenge and
// credential stores carry all mutable state.
type AuthenticationCeremony struct {
	cfg        *Config
	verifier   Verifier
	challenges ChallengeStore
	creds      CredentialStore
	logger     *slog.Logger
}

// Begin starts an authentication ceremony for the given email and returns
// assertion options listing the user's registered credential IDs. Callers
// surfacing the result over the wire should collapse ErrUnknownUser and
// ErrUnknownCredential into a generic failure to avoid user enumeration.
func (c *AuthenticationCeremony) Begin(ctx context.Context, email string) (result *protocol.CredentialAssertion, err error) {
	start := time.Now()
	defer func() { recordCeremony(CeremonyAuthentication, PhaseBegin, start, err) }()

	user, err := c.creds.FindUser(ctx, email)
	if err != nil {
		return nil, wrapErr("find user", err)
	}
	if len(user.Credentials) == 0 {
		return nil, wrapErr("find credentials", ErrUnknownCredential)
	}

	options, session, err := c.verifier.BeginLogin(user)
	if err != nil {
		return nil, wrapErr("begin login", err)
	}

	ch := &Challenge{
		Value:     session.Challenge,
		Purpose:   PurposeAuthentication,
		Subject:   email,
		Handle:    user.WebAuthnID(),
		Session:   *session,
		ExpiresAt: time.Now().Add(c.cfg.ChallengeTTL),
	}
	if err := c.challenges.Issue(ctx, ch); err != nil {
		return nil, wrapErr("issue challenge", err)
	}

	c.logger.Debug("authentication ceremony started", "email", email)
	return options, nil
}

// Complete finishes an authentication ceremony. Gates, in order, each
// terminal: credential and owner resolution, challenge consumption and
// binding, assertion verification (signature, origin, RP ID hash), and the
// signature counter bump. The counter gate is the cloned-authenticator
// defense and is never skipped or made best-effort.
func (c *AuthenticationCeremony) Complete(ctx context.Context, response *protocol.ParsedCredentialAssertionData) (user *User, err error) {
	start := time.Now()
	defer func() { recordCeremony(CeremonyAuthentication, PhaseComplete, start, err) }()
	defer func() {
		if err != nil {
			c.logger.Info("authentication rejected", "reason", err)
		}
	}()

	if response == nil {
		return nil, wrapErr("complete authentication", ErrMalformedAssertion)
	}

	cred, err := c.creds.FindCredential(ctx, response.RawID)
	if err != nil {
		return nil, wrapErr("find credential", err)
	}
	user, err = c.creds.FindUserByHandle(ctx, cred.UserID[:])
	if err != nil {
		return nil, wrapErr("find owner", err)
	}
	// A client-supplied user handle must name the credential's owner.
	if handle := response.Response.UserHandle; len(handle) > 0 && !bytes.Equal(handle, user.WebAuthnID()) {
		return nil, wrapErr("user handle", ErrUnknownCredential)
	}

	ch, err := c.challenges.Consume(ctx, response.Response.CollectedClientData.Challenge)
	if err != nil {
		return nil, wrapErr("consume challenge", err)
	}
	if ch.Purpose != PurposeAuthentication || ch.Subject != user.Email {
		return nil, wrapErr("challenge binding", ErrInvalidChallenge)
	}

	verified, err := c.verifier.VerifyAssertion(user, ch.Session, response)
	if err != nil {
		return nil, err
	}
	if verified.Authenticator.CloneWarning {
		return nil, wrapErr("clone detection", ErrCounterRegression)
	}

	if err := c.creds.BumpCounter(ctx, cred.ID, verified.Authenticator.SignCount); err != nil {
		return nil, wrapErr("bump counter", err)
	}

	c.logger.Info("authentication verified", "email", user.Email, "user_id", user.ID)
	return user, nil
}
