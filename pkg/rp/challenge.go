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
	"sync"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// Purpose binds a challenge to the ceremony type it was minted for.
type Purpose string

// Challenge purposes.
const (
	PurposeRegistration   Purpose = "registration"
	PurposeAuthentication Purpose = "authentication"
)

// Challenge is a single-use nonce binding one ceremony attempt to a
// subject, a purpose, and an expiry. Value is the base64url form of the
// random challenge bytes, exactly as echoed back in clientDataJSON.
type Challenge struct {
	Value       string               `json:"value"`
	Purpose     Purpose              `json:"purpose"`
	Subject     string               `json:"subject,omitempty"`
	Handle      []byte               `json:"handle,omitempty"`
	DisplayName string               `json:"display_name,omitempty"`
	Session     webauthn.SessionData `json:"session"`
	IssuedAt    time.Time            `json:"issued_at"`
	ExpiresAt   time.Time            `json:"expires_at"`
}

// Expired reports whether the challenge TTL has passed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// MemoryChallengeStore is an in-memory ChallengeStore. Consumption and
// eviction share one removal path under a single mutex, which makes both
// linearizable with respect to concurrent callers.
type MemoryChallengeStore struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	ttl        time.Duration
}

// NewMemoryChallengeStore creates an in-memory challenge store with the
// default TTL applied to challenges issued without an expiry.
func NewMemoryChallengeStore() *MemoryChallengeStore {
	return NewMemoryChallengeStoreWithTTL(2 * time.Minute)
}

// NewMemoryChallengeStoreWithTTL creates an in-memory challenge store with
// a custom default TTL.
func NewMemoryChallengeStoreWithTTL(ttl time.Duration) *MemoryChallengeStore {
	return &MemoryChallengeStore{
		challenges: make(map[string]*Challenge),
		ttl:        ttl,
	}
}

// Issue persists a new challenge.
func (s *MemoryChallengeStore) Issue(ctx context.Context, ch *Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if ch.IssuedAt.IsZero() {
		ch.IssuedAt = now
	}
	if ch.ExpiresAt.IsZero() {
		ch.ExpiresAt = now.Add(s.ttl)
	}
	s.challenges[ch.Value] = ch
	return nil
}

// Consume atomically removes and returns the challenge matching value.
func (s *MemoryChallengeStore) Consume(ctx context.Context, value string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[value]
	if !ok {
		return nil, ErrInvalidChallenge
	}
	delete(s.challenges, value)

	if ch.Expired(time.Now()) {
		return nil, ErrChallengeExpired
	}
	return ch, nil
}

// Evict removes expired challenges and returns how many were purged.
func (s *MemoryChallengeStore) Evict() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for value, ch := range s.challenges {
		if ch.Expired(now) {
			delete(s.challenges, value)
			removed++
		}
	}
	return removed
}

// Count returns the number of live challenges in the store.
func (s *MemoryChallengeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

// StartEviction runs Evict on the given interval until ctx is canceled.
// Eviction bounds memory for ceremonies the client abandoned mid-flight.
func (s *MemoryChallengeStore) StartEviction(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Evict()
			}
		}
	}()
}
