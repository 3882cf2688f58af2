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

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-passkey/pkg/rp"
)

// newTestStore connects to the database named by PASSKEY_TEST_DATABASE_DSN
// and returns a migrated store. Tests are skipped when the variable is
// unset so the suite stays runnable without a database.
func newTestStore(t *testing.T) *CredentialStore {
	t.Helper()

	dsn := os.Getenv("PASSKEY_TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skip("PASSKEY_TEST_DATABASE_DSN not set")
	}

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, dsn))

	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	cleanTables(t, pool)
	return NewCredentialStore(pool)
}

func cleanTables(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `TRUNCATE credentials, users`)
	require.NoError(t, err)
}

func testUser(email string) *rp.User {
	return rp.NewUser(email, "Test User")
}

func testCredential(id string) *rp.Credential {
	return &rp.Credential{
		ID:        []byte(id),
		PublicKey: []byte("cose-key"),
		Transport: nil,
	}
}

func TestPostgres_RegisterAndFind(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	owner, err := store.Register(ctx, testUser("alice@example.com"), testCredential("cred-1"))
	require.NoError(t, err)
	require.Len(t, owner.Credentials, 1)
	assert.Equal(t, owner.ID, owner.Credentials[0].UserID)

	// The pending user never carries a timestamp; the store stamps it.
	assert.False(t, owner.CreatedAt.IsZero())
	assert.WithinDuration(t, time.Now(), owner.CreatedAt, time.Minute)

	found, err := store.FindUser(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, owner.ID, found.ID)

	byHandle, err := store.FindUserByHandle(ctx, owner.WebAuthnID())
	require.NoError(t, err)
	assert.Equal(t, owner.ID, byHandle.ID)

	cred, err := store.FindCredential(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, owner.ID, cred.UserID)
}

func TestPostgres_UnknownLookups(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.FindUser(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, rp.ErrUnknownUser)

	id := uuid.New()
	_, err = store.FindUserByHandle(ctx, id[:])
	assert.ErrorIs(t, err, rp.ErrUnknownUser)

	_, err = store.FindUserByHandle(ctx, []byte("short"))
	assert.ErrorIs(t, err, rp.ErrUnknownUser)

	_, err = store.FindCredential(ctx, []byte("missing"))
	assert.ErrorIs(t, err, rp.ErrUnknownCredential)
}

func TestPostgres_SecondCredentialKeepsHandle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.Register(ctx, testUser("alice@example.com"), testCredential("cred-1"))
	require.NoError(t, err)

	second, err := store.Register(ctx, testUser("alice@example.com"), testCredential("cred-2"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, second.Credentials, 2)
}

func TestPostgres_CrossAccountDuplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Register(ctx, testUser("alice@example.com"), testCredential("shared"))
	require.NoError(t, err)

	_, err = store.Register(ctx, testUser("mallory@example.com"), testCredential("shared"))
	assert.ErrorIs(t, err, rp.ErrAlreadyRegistered)

	// The rejected registration left no orphan account behind with a
	// usable credential.
	mallory, err := store.FindUser(ctx, "mallory@example.com")
	if err == nil {
		assert.Empty(t, mallory.Credentials)
	}
}

func TestPostgres_BumpCounter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cred := testCredential("cred-1")
	cred.SignCount = 5
	_, err := store.Register(ctx, testUser("alice@example.com"), cred)
	require.NoError(t, err)

	require.NoError(t, store.BumpCounter(ctx, []byte("cred-1"), 6))

	stored, err := store.FindCredential(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(6), stored.SignCount)
	assert.False(t, stored.LastUsedAt.IsZero())

	assert.ErrorIs(t, store.BumpCounter(ctx, []byte("cred-1"), 6), rp.ErrCounterRegression)
	assert.ErrorIs(t, store.BumpCounter(ctx, []byte("cred-1"), 4), rp.ErrCounterRegression)
	assert.ErrorIs(t, store.BumpCounter(ctx, []byte("missing"), 7), rp.ErrUnknownCredential)
}

func TestPostgres_BumpCounterZeroPolicy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Register(ctx, testUser("alice@example.com"), testCredential("cred-1"))
	require.NoError(t, err)
	assert.NoError(t, store.BumpCounter(ctx, []byte("cred-1"), 0))

	store.StrictSignCount = true
	_, err = store.Register(ctx, testUser("bob@example.com"), testCredential("cred-2"))
	require.NoError(t, err)
	assert.ErrorIs(t, store.BumpCounter(ctx, []byte("cred-2"), 0), rp.ErrCounterRegression)
}

func TestPostgres_ConcurrentBumps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Register(ctx, testUser("alice@example.com"), testCredential("cred-1"))
	require.NoError(t, err)

	const workers = 8
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			results <- store.BumpCounter(ctx, []byte("cred-1"), 1)
		}()
	}

	wins := 0
	for i := 0; i < workers; i++ {
		if err := <-results; err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, rp.ErrCounterRegression, fmt.Sprintf("worker %d", i))
		}
	}
	assert.Equal(t, 1, wins)
}
