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
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Session is the authenticated state materialized by a successful
// authentication ceremony. It is a value type; the transport layer carries
// it as an opaque token. The zero Session is valid and unauthenticated.
type Session struct {
	// Subject is the user's stable internal ID. Empty means
	// unauthenticated.
	Subject string `json:"sub,omitempty"`

	// Email is the login identifier at issue time.
	Email string `json:"email,omitempty"`

	// IssuedAt is when the session was materialized.
	IssuedAt time.Time `json:"iat,omitempty"`
}

// Authenticated reports whether the session carries a subject. This is the
// sole predicate gating protected resources.
func (s Session) Authenticated() bool {
	return s.Subject != ""
}

// SessionManager converts ceremony outcomes into sessions and resolves
// session subjects back to users. It depends only on ceremony outcomes,
// never on ceremony internals.
type SessionManager struct {
	users  CredentialStore
	secret []byte
	ttl    time.Duration
}

// NewSessionManager creates a session manager signing tokens with secret.
// ttl bounds token validity; zero means one hour.
func NewSessionManager(users CredentialStore, secret []byte, ttl time.Duration) (*SessionManager, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("session secret is required")
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	return &SessionManager{users: users, secret: secret, ttl: ttl}, nil
}

// Issue materializes a session from a verified user.
func (m *SessionManager) Issue(user *User) Session {
	return Session{
		Subject:  user.ID.String(),
		Email:    user.Email,
		IssuedAt: time.Now().UTC(),
	}
}

// Logout clears the subject. The result is structurally valid and flows
// back through the transport layer as an unauthenticated session.
func (m *SessionManager) Logout(s Session) Session {
	return Session{IssuedAt: s.IssuedAt}
}

// Token encodes the session as a signed compact token for transport.
func (m *SessionManager) Token(s Session) (string, error) {
	if !s.Authenticated() {
		return "", fmt.Errorf("cannot tokenize unauthenticated session")
	}
	now := s.IssuedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	claims := jwt.MapClaims{
		"sub":   s.Subject,
		"email": s.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(m.ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Parse decodes and validates a session token. Invalid or expired tokens
// yield the zero (unauthenticated) session along with the error.
func (m *SessionManager) Parse(token string) (Session, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Session{}, fmt.Errorf("parse session token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, fmt.Errorf("unexpected session claims")
	}

	s := Session{}
	if sub, ok := claims["sub"].(string); ok {
		s.Subject = sub
	}
	if email, ok := claims["email"].(string); ok {
		s.Email = email
	}
	if iat, ok := claims["iat"].(float64); ok {
		s.IssuedAt = time.Unix(int64(iat), 0).UTC()
	}
	if !s.Authenticated() {
		return Session{}, fmt.Errorf("session token without subject")
	}
	return s, nil
}

// AttachSubject resolves the session subject to the full user record. A
// session whose subject no longer resolves (user deleted, malformed
// subject) is treated as unauthenticated rather than an error.
func (m *SessionManager) AttachSubject(ctx context.Context, s Session) (*User, bool) {
	if !s.Authenticated() {
		return nil, false
	}
	id, err := uuid.Parse(s.Subject)
	if err != nil {
		return nil, false
	}
	user, err := m.users.FindUserByHandle(ctx, id[:])
	if err != nil {
		return nil, false
	}
	return user, true
}
