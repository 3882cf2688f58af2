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

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-passkey/pkg/rp"
)

// Handler provides HTTP handlers for the passkey ceremonies.
// These handlers can be mounted on any HTTP router.
type Handler struct {
	party        *rp.RelyingParty
	logger       *slog.Logger
	loginPath    string
	cookieSecure bool
}

// NewHandler creates a passkey HTTP handler.
func NewHandler(party *rp.RelyingParty) *Handler {
	return &Handler{
		party:  party,
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the handler.
func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// WithLoginPath sets the page unauthenticated requests are redirected to.
// When empty, protected routes answer 401 JSON instead of redirecting.
func (h *Handler) WithLoginPath(path string) *Handler {
	h.loginPath = path
	return h
}

// WithSecureCookies marks session cookies Secure. Enable whenever the
// deployment terminates TLS.
func (h *Handler) WithSecureCookies(secure bool) *Handler {
	h.cookieSecure = secure
	return h
}

// BeginRegistration handles POST /registration/begin
//
// Request body:
//
//	{
//	    "email": "user@example.com",
//	    "display_name": "User Name" // optional
//	}
//
// Response: WebAuthn PublicKeyCredentialCreationOptions
func (h *Handler) BeginRegistration(w http.ResponseWriter, r *http.Request) {
	var req BeginRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "email is required")
		return
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Email
	}

	options, err := h.party.Registration.Begin(r.Context(), req.Email, displayName)
	if err != nil {
		h.handleCeremonyError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, options)
}

// FinishRegistration handles POST /registration/finish?email=...
//
// Request body: attestation response from the authenticator, unchanged.
// Response: 201 with the user summary.
func (h *Handler) FinishRegistration(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "email query parameter is required")
		return
	}

	response, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid attestation response")
		return
	}

	user, err := h.party.Registration.Complete(r.Context(), email, response)
	if err != nil {
		h.handleCeremonyError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, userResponse(user))
}

// BeginLogin handles POST /login/begin
//
// Request body:
//
//	{
//	    "email": "user@example.com"
//	}
//
// Response: WebAuthn PublicKeyCredentialRequestOptions. Unknown accounts
// receive the same generic 401 as any other authentication failure.
func (h *Handler) BeginLogin(w http.ResponseWriter, r *http.Request) {
	var req BeginLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "email is required")
		return
	}

	options, err := h.party.Authentication.Begin(r.Context(), req.Email)
	if err != nil {
		h.handleCeremonyError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, options)
}

// FinishLogin handles POST /login/finish
//
// Request body: assertion response from the authenticator, unchanged.
// On success the session cookie is set. With ?redirect=/path the response
// is 303 See Other; otherwise 200 with the user summary.
func (h *Handler) FinishLogin(w http.ResponseWriter, r *http.Request) {
	response, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid assertion response")
		return
	}

	user, err := h.party.Authentication.Complete(r.Context(), response)
	if err != nil {
		h.handleCeremonyError(w, r, err)
		return
	}

	session := h.party.Sessions.Issue(user)
	token, err := h.party.Sessions.Token(session)
	if err != nil {
		h.logger.Error("failed to sign session token", "error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
		return
	}
	h.setSessionCookie(w, token, 0)

	if target := r.URL.Query().Get("redirect"); localRedirect(target) {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	h.writeJSON(w, http.StatusOK, userResponse(user))
}

// localRedirect reports whether target is a same-origin path. Targets
// beginning with "//" or "/\" are scheme-relative URLs and are rejected.
func localRedirect(target string) bool {
	if !strings.HasPrefix(target, "/") {
		return false
	}
	if len(target) > 1 && (target[1] == '/' || target[1] == '\\') {
		return false
	}
	return true
}

// Logout handles POST /logout. It clears the session cookie and redirects
// to the login page when one is configured.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.setSessionCookie(w, "", -1)
	if h.loginPath != "" {
		http.Redirect(w, r, h.loginPath, http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /me. Mount behind RequireSession.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, ErrorCodeUnauthorized, "authentication required")
		return
	}
	h.writeJSON(w, http.StatusOK, userResponse(user))
}

func userResponse(user *rp.User) UserResponse {
	return UserResponse{
		ID:          user.ID.String(),
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Credentials: len(user.Credentials),
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// handleCeremonyError maps ceremony errors to HTTP responses. Errors that
// would let a caller probe which accounts or credentials exist all collapse
// into one generic 401; the concrete cause is logged, never returned.
func (h *Handler) handleCeremonyError(w http.ResponseWriter, r *http.Request, err error) {
	if rp.IsEnumerationSensitive(err) || errors.Is(err, rp.ErrCounterRegression) {
		h.logger.Warn("authentication rejected",
			"path", r.URL.Path,
			"reason", err)
		h.writeError(w, http.StatusUnauthorized, ErrorCodeVerificationFailed, "authentication failed")
		return
	}

	switch {
	case errors.Is(err, rp.ErrInvalidChallenge):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidChallenge, "invalid or already used challenge")
	case errors.Is(err, rp.ErrChallengeExpired):
		h.writeError(w, http.StatusBadRequest, ErrorCodeChallengeExpired, "challenge expired")
	case errors.Is(err, rp.ErrOriginMismatch):
		h.writeError(w, http.StatusBadRequest, ErrorCodeVerificationFailed, "origin not allowed")
	case errors.Is(err, rp.ErrMalformedAttestation), errors.Is(err, rp.ErrMalformedAssertion):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "invalid authenticator response")
	case errors.Is(err, rp.ErrUnsupportedAlgorithm):
		h.writeError(w, http.StatusBadRequest, ErrorCodeInvalidRequest, "unsupported credential algorithm")
	case errors.Is(err, rp.ErrAlreadyRegistered):
		h.writeError(w, http.StatusConflict, ErrorCodeAlreadyRegistered, "credential already registered")
	default:
		h.logger.Error("ceremony failed",
			"path", r.URL.Path,
			"error", err)
		h.writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal server error")
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Response headers already written, can only log the error
		h.logger.Error("failed to encode JSON response",
			"error", err,
			"status", status)
	}
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
	})
}
