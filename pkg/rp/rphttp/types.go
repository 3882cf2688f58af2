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

package rphttp

// SessionCookieName is the cookie carrying the signed session token.
const SessionCookieName = "passkey_session"

// BeginRegistrationRequest is the request body for starting registration.
type BeginRegistrationRequest struct {
	// Email is the user's login identifier (required).
	Email string `json:"email"`

	// DisplayName is the user's display name (optional, defaults to email).
	DisplayName string `json:"display_name,omitempty"`
}

// BeginLoginRequest is the request body for starting authentication.
type BeginLoginRequest struct {
	// Email is the user's login identifier (required).
	Email string `json:"email"`
}

// UserResponse is the public view of a user after a successful ceremony.
type UserResponse struct {
	// ID is the user's stable internal identifier.
	ID string `json:"id"`

	// Email is the user's login identifier.
	Email string `json:"email"`

	// DisplayName is the user's display name.
	DisplayName string `json:"display_name"`

	// Credentials is the number of passkeys on the account.
	Credentials int `json:"credentials"`
}

// ErrorResponse is the response format for errors.
type ErrorResponse struct {
	// Error is the error code.
	Error string `json:"error"`

	// Message is a human-readable error message.
	Message string `json:"message"`
}

// Error codes returned in ErrorResponse.
const (
	ErrorCodeInvalidRequest     = "invalid_request"
	ErrorCodeInvalidChallenge   = "invalid_challenge"
	ErrorCodeChallengeExpired   = "challenge_expired"
	ErrorCodeAlreadyRegistered  = "already_registered"
	ErrorCodeVerificationFailed = "verification_failed"
	ErrorCodeUnauthorized       = "unauthorized"
	ErrorCodeInternalError      = "internal_error"
)
