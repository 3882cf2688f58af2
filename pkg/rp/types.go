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
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// User is an account holding registered authenticator credentials.
//
// Email is the unique natural key used for lookup; ID is the stable
// internal reference carried in sessions and used as the WebAuthn user
// handle, so an email change never invalidates sessions or handles.
type User struct {
	// ID is the opaque internal identifier and WebAuthn user handle.
	ID uuid.UUID `json:"id"`

	// Email is the unique login identifier.
	Email string `json:"email"`

	// DisplayName is shown by authenticator UIs during ceremonies.
	DisplayName string `json:"display_name"`

	// Credentials are the authenticators registered to this user.
	Credentials []*Credential `json:"credentials,omitempty"`

	// CreatedAt is when the user was first registered.
	CreatedAt time.Time `json:"created_at"`
}

// NewUser creates a pending user with a freshly assigned handle. The user
// is not persisted until a registration ceremony completes.
func NewUser(email, displayName string) *User {
	if displayName == "" {
		displayName = email
	}
	return &User{
		ID:          uuid.New(),
		Email:       email,
		DisplayName: displayName,
	}
}

// WebAuthnID returns the user handle presented to authenticators.
func (u *User) WebAuthnID() []byte {
	return u.ID[:]
}

// WebAuthnName returns the login identifier.
func (u *User) WebAuthnName() string {
	return u.Email
}

// WebAuthnDisplayName returns the name shown by authenticator UIs.
func (u *User) WebAuthnDisplayName() string {
	if u.DisplayName == "" {
		return u.Email
	}
	return u.DisplayName
}

// WebAuthnCredentials returns the registered credentials in the
// verification layer's format.
func (u *User) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.Credentials))
	for i, c := range u.Credentials {
		creds[i] = c.toWebAuthn()
	}
	return creds
}

// Credential is a public-key credential registered with this RP. The
// private key never leaves the authenticator; the RP stores only the
// verification material and the replay-detection counter.
type Credential struct {
	// ID is the opaque credential identifier assigned by the authenticator.
	ID []byte `json:"id"`

	// UserID is the owning user. A credential is owned by exactly one user.
	UserID uuid.UUID `json:"user_id"`

	// PublicKey is the COSE-encoded verification key material.
	PublicKey []byte `json:"public_key"`

	// AttestationType records how the credential attested its origin.
	AttestationType string `json:"attestation_type"`

	// Transport lists the transports reported by the authenticator.
	Transport []protocol.AuthenticatorTransport `json:"transport,omitempty"`

	// AAGUID identifies the authenticator model.
	AAGUID []byte `json:"aaguid,omitempty"`

	// SignCount is the authenticator-reported signature counter.
	// Monotonically non-decreasing; a regression indicates a clone.
	SignCount uint32 `json:"sign_count"`

	// UserPresent and UserVerified record the flags observed at
	// registration.
	UserPresent  bool `json:"user_present"`
	UserVerified bool `json:"user_verified"`

	// BackupEligible and BackupState record authenticator backup flags.
	BackupEligible bool `json:"backup_eligible"`
	BackupState    bool `json:"backup_state"`

	// CreatedAt is when the credential was registered.
	CreatedAt time.Time `json:"created_at"`

	// LastUsedAt is when the credential last completed an authentication.
	LastUsedAt time.Time `json:"last_used_at,omitempty"`
}

// toWebAuthn converts the credential for the verification layer.
func (c *Credential) toWebAuthn() webauthn.Credential {
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       c.Transport,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.UserPresent,
			UserVerified:   c.UserVerified,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    c.AAGUID,
			SignCount: c.SignCount,
		},
	}
}

// descriptor converts the credential for allow/exclude lists.
func (c *Credential) descriptor() protocol.CredentialDescriptor {
	return protocol.CredentialDescriptor{
		Type:         protocol.PublicKeyCredentialType,
		CredentialID: c.ID,
		Transport:    c.Transport,
	}
}

// newCredential builds a Credential from freshly verified registration
// output.
func newCredential(owner uuid.UUID, verified *webauthn.Credential) *Credential {
	return &Credential{
		ID:              verified.ID,
		UserID:          owner,
		PublicKey:       verified.PublicKey,
		AttestationType: verified.AttestationType,
		Transport:       verified.Transport,
		AAGUID:          verified.Authenticator.AAGUID,
		SignCount:       verified.Authenticator.SignCount,
		UserPresent:     verified.Flags.UserPresent,
		UserVerified:    verified.Flags.UserVerified,
		BackupEligible:  verified.Flags.BackupEligible,
		BackupState:     verified.Flags.BackupState,
		CreatedAt:       time.Now().UTC(),
	}
}
