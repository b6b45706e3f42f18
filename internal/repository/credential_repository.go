package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/pkg/database"
)

// credentialRepository implements CredentialRepository interface
type credentialRepository struct {
	db database.Querier
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db database.Querier) CredentialRepository {
	return &credentialRepository{db: db}
}

// Put stores or replaces the encrypted credential of a connection
func (r *credentialRepository) Put(ctx context.Context, cred *domain.Credential) error {
	query := `
		INSERT INTO credentials (connection_id, access_token_enc, refresh_token_enc, key_version, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (connection_id) DO UPDATE SET
			access_token_enc = EXCLUDED.access_token_enc,
			refresh_token_enc = EXCLUDED.refresh_token_enc,
			key_version = EXCLUDED.key_version,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`

	if cred.UpdatedAt.IsZero() {
		cred.UpdatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		cred.ConnectionID,
		cred.AccessTokenEnc,
		cred.RefreshTokenEnc,
		cred.KeyVersion,
		cred.ExpiresAt,
		cred.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// Get retrieves the encrypted credential of a connection
func (r *credentialRepository) Get(ctx context.Context, connectionID string) (*domain.Credential, error) {
	query := `
		SELECT connection_id, access_token_enc, refresh_token_enc, key_version, expires_at, updated_at
		FROM credentials
		WHERE connection_id = $1
	`

	cred := &domain.Credential{}
	err := r.db.QueryRowContext(ctx, query, connectionID).Scan(
		&cred.ConnectionID,
		&cred.AccessTokenEnc,
		&cred.RefreshTokenEnc,
		&cred.KeyVersion,
		&cred.ExpiresAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential for connection %s not found: %w", connectionID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return cred, nil
}

// Delete removes the credential of a connection; a missing credential is not an error
func (r *credentialRepository) Delete(ctx context.Context, connectionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
