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
	"encoding/base64"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CounterAdvances reports whether a reported signature counter is
// acceptable against the stored one: strictly greater, or the documented
// 0 -> 0 exception for counter-less authenticators when strict is false.
func CounterAdvances(stored, reported uint32, strict bool) bool {
	if reported > stored {
		return true
	}
	return stored == 0 && reported == 0 && !strict
}

// MemoryCredentialStore is an in-memory CredentialStore. It is the
// reference implementation of the store's atomicity contract: every
// mutation is compare-and-commit under one mutex, so registration of a
// credential ID and counter bumps are linearizable.
type MemoryCredentialStore struct {
	// StrictSignCount rejects 0 -> 0 counter updates. Set before use;
	// the zero value allows counter-less authenticators.
	StrictSignCount bool

	mu          sync.RWMutex
	usersByMail map[string]*User
	usersByID   map[uuid.UUID]*User
	credsByID   map[string]*Credential
}

// NewMemoryCredentialStore creates an empty in-memory credential store.
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{
		usersByMail: make(map[string]*User),
		usersByID:   make(map[uuid.UUID]*User),
		credsByID:   make(map[string]*Credential),
	}
}

func credKey(credID []byte) string {
	return base64.RawURLEncoding.EncodeToString(credID)
}

// FindUser retrieves a user by email.
func (s *MemoryCredentialStore) FindUser(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByMail[email]
	if !ok {
		return nil, ErrUnknownUser
	}
	return user, nil
}

// FindUserByHandle retrieves a user by WebAuthn user handle.
func (s *MemoryCredentialStore) FindUserByHandle(ctx context.Context, handle []byte) (*User, error) {
	id, err := uuid.FromBytes(handle)
	if err != nil {
		return nil, ErrUnknownUser
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, ErrUnknownUser
	}
	return user, nil
}

// FindCredential retrieves a credential by its ID.
func (s *MemoryCredentialStore) FindCredential(ctx context.Context, credID []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credsByID[credKey(credID)]
	if !ok {
		return nil, ErrUnknownCredential
	}
	return cred, nil
}

// Register creates the user if absent and attaches the credential. The
// duplicate check spans all users: cross-account credential reuse is
// rejected.
func (s *MemoryCredentialStore) Register(ctx context.Context, user *User, cred *Credential) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := credKey(cred.ID)
	if _, ok := s.credsByID[key]; ok {
		return nil, ErrAlreadyRegistered
	}

	owner, ok := s.usersByMail[user.Email]
	if !ok {
		owner = &User{
			ID:          user.ID,
			Email:       user.Email,
			DisplayName: user.DisplayName,
			CreatedAt:   time.Now().UTC(),
		}
		s.usersByMail[owner.Email] = owner
		s.usersByID[owner.ID] = owner
	}

	cred.UserID = owner.ID
	owner.Credentials = append(owner.Credentials, cred)
	s.credsByID[key] = cred

	return owner, nil
}

// BumpCounter commits newCount iff it advances the stored counter.
func (s *MemoryCredentialStore) BumpCounter(ctx context.Context, credID []byte, newCount uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credsByID[credKey(credID)]
	if !ok {
		return ErrUnknownCredential
	}
	if !CounterAdvances(cred.SignCount, newCount, s.StrictSignCount) {
		return ErrCounterRegression
	}

	cred.SignCount = newCount
	cred.LastUsedAt = time.Now().UTC()
	return nil
}

// Count returns the total number of credentials in the store.
func (s *MemoryCredentialStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.credsByID)
}
