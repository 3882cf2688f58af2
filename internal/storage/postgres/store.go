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

// Package postgres provides the Postgres-backed credential store. The
// schema keeps users and credentials in two tables; the credential ID is
// the primary key, so cross-account duplicate registration is rejected by
// the database itself, and counter bumps are single conditional updates.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/jeremyhahn/go-passkey/internal/storage/postgres/migrations"
	"github.com/jeremyhahn/go-passkey/pkg/rp"
)

// Connect opens a connection pool and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies pending schema migrations.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open database for migrations: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// CredentialStore implements rp.CredentialStore on Postgres.
type CredentialStore struct {
	// StrictSignCount rejects 0 -> 0 counter updates. Set before use.
	StrictSignCount bool

	pool *pgxpool.Pool
}

// NewCredentialStore creates a credential store on an existing pool.
func NewCredentialStore(pool *pgxpool.Pool) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// FindUser retrieves a user and their credentials by email.
func (s *CredentialStore) FindUser(ctx context.Context, email string) (*rp.User, error) {
	return s.findUser(ctx, `SELECT id, email, display_name, created_at FROM users WHERE email = $1`, email)
}

// FindUserByHandle retrieves a user by WebAuthn user handle.
func (s *CredentialStore) FindUserByHandle(ctx context.Context, handle []byte) (*rp.User, error) {
	id, err := uuid.FromBytes(handle)
	if err != nil {
		return nil, rp.ErrUnknownUser
	}
	return s.findUser(ctx, `SELECT id, email, display_name, created_at FROM users WHERE id = $1`, id)
}

func (s *CredentialStore) findUser(ctx context.Context, query string, arg any) (*rp.User, error) {
	user := &rp.User{}
	err := s.pool.QueryRow(ctx, query, arg).Scan(&user.ID, &user.Email, &user.DisplayName, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rp.ErrUnknownUser
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, public_key, attestation_type, transports, aaguid,
		       sign_count, user_present, user_verified, backup_eligible,
		       backup_state, created_at, last_used_at
		FROM credentials
		WHERE user_id = $1
		ORDER BY created_at
	`, user.ID)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		user.Credentials = append(user.Credentials, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return user, nil
}

// FindCredential retrieves a credential by its ID.
func (s *CredentialStore) FindCredential(ctx context.Context, credID []byte) (*rp.Credential, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, public_key, attestation_type, transports, aaguid,
		       sign_count, user_present, user_verified, backup_eligible,
		       backup_state, created_at, last_used_at
		FROM credentials
		WHERE id = $1
	`, credID)

	cred, err := scanCredential(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rp.ErrUnknownCredential
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// Register creates the user row if absent, keeping the existing row's ID
// when the email is already known, and attaches the credential. A
// credential ID held by any account fails with ErrAlreadyRegistered; the
// primary key makes the duplicate check race-free.
func (s *CredentialStore) Register(ctx context.Context, user *rp.User, cred *rp.Credential) (*rp.User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var ownerID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO users (id, email, display_name, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id
	`, user.ID, user.Email, user.DisplayName, createdAt).Scan(&ownerID)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	transports := make([]string, len(cred.Transport))
	for i, t := range cred.Transport {
		transports[i] = string(t)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credentials (
			id, user_id, public_key, attestation_type, transports, aaguid,
			sign_count, user_present, user_verified, backup_eligible,
			backup_state, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		cred.ID,
		ownerID,
		cred.PublicKey,
		cred.AttestationType,
		transports,
		cred.AAGUID,
		int64(cred.SignCount),
		cred.UserPresent,
		cred.UserVerified,
		cred.BackupEligible,
		cred.BackupState,
		cred.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, rp.ErrAlreadyRegistered
		}
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit registration: %w", err)
	}

	return s.FindUser(ctx, user.Email)
}

// BumpCounter commits newCount in a single conditional update, so
// concurrent bumps for one credential serialize on the row lock and at
// most one of two equal counters wins.
func (s *CredentialStore) BumpCounter(ctx context.Context, credID []byte, newCount uint32) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE credentials
		SET sign_count = $2, last_used_at = now()
		WHERE id = $1
		  AND (sign_count < $2 OR (sign_count = 0 AND $2 = 0 AND NOT $3))
	`, credID, int64(newCount), s.StrictSignCount)
	if err != nil {
		return fmt.Errorf("update sign count: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM credentials WHERE id = $1)`, credID).Scan(&exists); err != nil {
		return fmt.Errorf("check credential: %w", err)
	}
	if !exists {
		return rp.ErrUnknownCredential
	}
	return rp.ErrCounterRegression
}

func scanCredential(row pgx.Row) (*rp.Credential, error) {
	cred := &rp.Credential{}
	var (
		transports []string
		signCount  int64
		lastUsed   *time.Time
	)
	err := row.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.PublicKey,
		&cred.AttestationType,
		&transports,
		&cred.AAGUID,
		&signCount,
		&cred.UserPresent,
		&cred.UserVerified,
		&cred.BackupEligible,
		&cred.BackupState,
		&cred.CreatedAt,
		&lastUsed,
	)
	if err != nil {
		return nil, err
	}

	cred.SignCount = uint32(signCount)
	if lastUsed != nil {
		cred.LastUsedAt = *lastUsed
	}
	for _, t := range transports {
		cred.Transport = append(cred.Transport, protocol.AuthenticatorTransport(t))
	}
	return cred, nil
}
