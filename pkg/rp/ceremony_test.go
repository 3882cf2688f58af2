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
	"encoding/json"
	"testing"
	"time"

	"github.com/descope/virtualwebauthn"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRig bundles a relying party with a virtual authenticator pointed at
// the same RP identity.
type testRig struct {
	party *RelyingParty
	vrp   virtualwebauthn.RelyingParty
	auth  virtualwebauthn.Authenticator
}

func newTestRig(t *testing.T, mutate ...func(*Config)) *testRig {
	t.Helper()

	cfg := &Config{
		RPID:          "example.com",
		RPDisplayName: "Example Corp",
		RPOrigins:     []string{"https://example.com"},
	}
	for _, m := range mutate {
		m(cfg)
	}

	party, err := New(Params{
		Config:        cfg,
		SessionSecret: []byte("test-secret"),
	})
	require.NoError(t, err)

	return &testRig{
		party: party,
		vrp: virtualwebauthn.RelyingParty{
			Name:   cfg.RPDisplayName,
			ID:     cfg.RPID,
			Origin: cfg.RPOrigins[0],
		},
		auth: virtualwebauthn.NewAuthenticator(),
	}
}

// attest runs Begin and produces the parsed attestation response without
// completing the ceremony.
func (rig *testRig) attest(t *testing.T, email, displayName string, cred *virtualwebauthn.Credential) *protocol.ParsedCredentialCreationData {
	t.Helper()

	options, err := rig.party.Registration.Begin(context.Background(), email, displayName)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)

	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(rig.vrp, rig.auth, *cred, *parsedOptions)
	return parseAttestationResponse(t, attestation)
}

// register runs the full registration ceremony for email with cred.
func (rig *testRig) register(t *testing.T, email, displayName string, cred *virtualwebauthn.Credential) *User {
	t.Helper()

	response := rig.attest(t, email, displayName, cred)
	user, err := rig.party.Registration.Complete(context.Background(), email, response)
	require.NoError(t, err)
	rig.auth.AddCredential(*cred)
	return user
}

// assert runs Begin and produces the parsed assertion response without
// completing the ceremony. The caller bumps cred.Counter to simulate the
// authenticator's own counter.
func (rig *testRig) assertion(t *testing.T, email string, cred *virtualwebauthn.Credential) *protocol.ParsedCredentialAssertionData {
	t.Helper()

	options, err := rig.party.Authentication.Begin(context.Background(), email)
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)

	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	assertion := virtualwebauthn.CreateAssertionResponse(rig.vrp, rig.auth, *cred, *parsedOptions)
	return parseAssertionResponse(t, assertion)
}

func parseAttestationResponse(t *testing.T, attestation string) *protocol.ParsedCredentialCreationData {
	t.Helper()
	var ccr protocol.CredentialCreationResponse
	require.NoError(t, json.Unmarshal([]byte(attestation), &ccr))
	parsed, err := ccr.Parse()
	require.NoError(t, err)
	return parsed
}

func parseAssertionResponse(t *testing.T, assertion string) *protocol.ParsedCredentialAssertionData {
	t.Helper()
	var car protocol.CredentialAssertionResponse
	require.NoError(t, json.Unmarshal([]byte(assertion), &car))
	parsed, err := car.Parse()
	require.NoError(t, err)
	return parsed
}

func TestIntegration_RegistrationAndLogin(t *testing.T) {
	rig := newTestRig(t)
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	options, err := rig.party.Registration.Begin(context.Background(), "alice@example.com", "Alice")
	require.NoError(t, err)
	assert.Equal(t, "example.com", options.Response.RelyingParty.ID)
	assert.Equal(t, "alice@example.com", options.Response.User.Name)
	assert.NotEmpty(t, options.Response.Challenge)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAttestationOptions(string(optionsJSON))
	require.NoError(t, err)

	attestation := virtualwebauthn.CreateAttestationResponse(rig.vrp, rig.auth, cred, *parsedOptions)
	user, err := rig.party.Registration.Complete(context.Background(), "alice@example.com", parseAttestationResponse(t, attestation))
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Len(t, user.Credentials, 1)
	assert.Equal(t, uint32(0), user.Credentials[0].SignCount)
	rig.auth.AddCredential(cred)

	cred.Counter++
	response := rig.assertion(t, "alice@example.com", &cred)
	loggedIn, err := rig.party.Authentication.Complete(context.Background(), response)
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	stored, err := rig.party.Authentication.creds.FindCredential(context.Background(), user.Credentials[0].ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stored.SignCount)
	assert.False(t, stored.LastUsedAt.IsZero())
}

func TestIntegration_ReplayedAttestationRejected(t *testing.T) {
	rig := newTestRig(t)
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	response := rig.attest(t, "alice@example.com", "Alice", &cred)

	_, err := rig.party.Registration.Complete(context.Background(), "alice@example.com", response)
	require.NoError(t, err)

	// Same attestation again: the challenge was consumed.
	_, err = rig.party.Registration.Complete(context.Background(), "alice@example.com", response)
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestIntegration_ReplayedAssertionRejected(t *testing.T) {
	rig := newTestRig(t)
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	rig.register(t, "alice@example.com", "Alice", &cred)

	cred.Counter++
	response := rig.assertion(t, "alice@example.com", &cred)

	_, err := rig.party.Authentication.Complete(context.Background(), response)
	require.NoError(t, err)

	_, err = rig.party.Authentication.Complete(context.Background(), response)
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestIntegration_CounterRegressionRejected(t *testing.T) {
	rig := newTestRig(t)
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	rig.register(t, "alice@example.com", "Alice", &cred)

	cred.Counter = 5
	response := rig.assertion(t, "alice@example.com", &cred)
	_, err := rig.party.Authentication.Complete(context.Background(), response)
	require.NoError(t, err)

	// A cloned authenticator replays the old counter value.
	cred.Counter = 5
	response = rig.assertion(t, "alice@example.com", &cred)
	_, err = rig.party.Authentication.Complete(context.Background(), response)
	assert.ErrorIs(t, err, ErrCounterRegression)
}

func TestIntegration_WrongOriginRejected(t *testing.T) {
	rig := newTestRig(t)
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	rig.register(t, "alice@example.com", "Alice", &cred)

	options, err := rig.party.Authentication.Begin(context.Background(), "alice@example.com")
	require.NoError(t, err)

	optionsJSON, err := json.Marshal(options.Response)
	require.NoError(t, err)
	parsedOptions, err := virtualwebauthn.ParseAssertionOptions(string(optionsJSON))
	require.NoError(t, err)

	evil := virtualwebauthn.RelyingParty{
		Name:   rig.vrp.Name,
		ID:     rig.vrp.ID,
		Origin: "https://evil.example.net",
	}
	cred.Counter++
	assertion := virtualwebauthn.CreateAssertionResponse(evil, rig.auth, cred, *parsedOptions)

	_, err = rig.party.Authentication.Complete(context.Background(), parseAssertionResponse(t, assertion))
	assert.ErrorIs(t, err, ErrOriginMismatch)
}

func TestIntegration_ExpiredChallengeRejected(t *testing.T) {
	rig := newTestRig(t, func(cfg *Config) {
		cfg.ChallengeTTL = time.Millisecond
	})
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	response := rig.attest(t, "alice@example.com", "Alice", &cred)
	time.Sleep(5 * time.Millisecond)

	_, err := rig.party.Registration.Complete(context.Background(), "alice@example.com", response)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestIntegration_CrossAccountCredentialRejected(t *testing.T) {
	rig := newTestRig(t)
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	rig.register(t, "alice@example.com", "Alice", &cred)

	// The same authenticator credential attests for a different account.
	response := rig.attest(t, "mallory@example.com", "Mallory", &cred)
	_, err := rig.party.Registration.Complete(context.Background(), "mallory@example.com", response)
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestIntegration_LoginUnknownUser(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.party.Authentication.Begin(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrUnknownUser)
	assert.True(t, IsEnumerationSensitive(err))
}

func TestIntegration_LoginUserWithoutCredentials(t *testing.T) {
	rig := newTestRig(t)
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	rig.register(t, "alice@example.com", "Alice", &cred)

	// Begin registration for bob, never complete it: no stored user.
	_, err := rig.party.Registration.Begin(context.Background(), "bob@example.com", "Bob")
	require.NoError(t, err)

	_, err = rig.party.Authentication.Begin(context.Background(), "bob@example.com")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestIntegration_ChallengePurposeBinding(t *testing.T) {
	rig := newTestRig(t)
	cred := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	// Complete registration under a different email than Begin used.
	response := rig.attest(t, "alice@example.com", "Alice", &cred)
	_, err := rig.party.Registration.Complete(context.Background(), "mallory@example.com", response)
	assert.ErrorIs(t, err, ErrInvalidChallenge)

	// The failed attempt consumed the challenge.
	_, err = rig.party.Registration.Complete(context.Background(), "alice@example.com", response)
	assert.ErrorIs(t, err, ErrInvalidChallenge)
}

func TestIntegration_SecondCredentialSameUser(t *testing.T) {
	rig := newTestRig(t)
	first := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)
	second := virtualwebauthn.NewCredential(virtualwebauthn.KeyTypeEC2)

	rig.register(t, "alice@example.com", "Alice", &first)
	user := rig.register(t, "alice@example.com", "Alice", &second)

	assert.Len(t, user.Credentials, 2)
}

func TestIntegration_NilResponses(t *testing.T) {
	rig := newTestRig(t)

	_, err := rig.party.Registration.Complete(context.Background(), "alice@example.com", nil)
	assert.ErrorIs(t, err, ErrMalformedAttestation)

	_, err = rig.party.Authentication.Complete(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMalformedAssertion)
}
