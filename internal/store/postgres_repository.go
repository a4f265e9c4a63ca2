/**
 * @description
 * This file provides the PostgreSQL implementation of the `CredentialStore` interface.
 * It reads PIN material from the `omni_profiles` table and hashed one-time codes from
 * `user_otps`. Nothing here writes.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/settlement-service/internal/domain"
)

const queryTimeout = 30 * time.Second

// PostgresRepository is a concrete implementation of CredentialStore for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindActiveCredential loads the PIN hash, BVN, PIN status and 2FA flag of an active profile.
func (r *PostgresRepository) FindActiveCredential(ctx context.Context, username string) (*domain.Credential, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT username,
		       COALESCE(transaction_pin, ''),
		       COALESCE(bvn, ''),
		       COALESCE(pin_status, ''),
		       COALESCE(two_fa_enforced, false)
		FROM omni_profiles
		WHERE username = $1 AND profile_status = 'Active'
	`
	var credential domain.Credential
	err := r.db.QueryRow(ctx, query, username).Scan(
		&credential.Username,
		&credential.PINHash,
		&credential.BVN,
		&credential.PINStatus,
		&credential.TwoFactorEnforced,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	return &credential, nil
}

// SecondFactorExists checks the user's stored one-time codes for an exact hash match.
func (r *PostgresRepository) SecondFactorExists(ctx context.Context, username string, channel domain.SecondFactorChannel, hashedCode string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_otps
			WHERE username = $1 AND channel = $2 AND token_code = $3
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, username, string(channel), hashedCode).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
