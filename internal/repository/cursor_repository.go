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

// cursorRepository implements CursorRepository interface
type cursorRepository struct {
	db database.Querier
}

// NewCursorRepository creates a new cursor repository
func NewCursorRepository(db database.Querier) CursorRepository {
	return &cursorRepository{db: db}
}

// Get retrieves the cursor of a connection
func (r *cursorRepository) Get(ctx context.Context, connectionID string) (*domain.Cursor, error) {
	query := `
		SELECT connection_id, position, sequence, updated_at
		FROM cursors
		WHERE connection_id = $1
	`

	cursor := &domain.Cursor{}
	err := r.db.QueryRowContext(ctx, query, connectionID).Scan(
		&cursor.ConnectionID,
		&cursor.Position,
		&cursor.Sequence,
		&cursor.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.Cursor{ConnectionID: connectionID}, nil
		}
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return cursor, nil
}

// Advance stores position and bumps the sequence, provided nobody advanced it since expectedSeq
func (r *cursorRepository) Advance(ctx context.Context, connectionID string, expectedSeq int64, position string) (*domain.Cursor, error) {
	query := `
		UPDATE cursors
		SET position = $2, sequence = sequence + 1, updated_at = $4
		WHERE connection_id = $1 AND sequence = $3
		RETURNING connection_id, position, sequence, updated_at
	`
	if expectedSeq == 0 {
		query = `
			INSERT INTO cursors (connection_id, position, sequence, updated_at)
			VALUES ($1, $2, 1, $4)
			ON CONFLICT (connection_id) DO UPDATE SET
				position = EXCLUDED.position,
				sequence = cursors.sequence + 1,
				updated_at = EXCLUDED.updated_at
			WHERE cursors.sequence = $3
			RETURNING connection_id, position, sequence, updated_at
		`
	}

	cursor := &domain.Cursor{}
	err := r.db.QueryRowContext(ctx, query, connectionID, position, expectedSeq, time.Now().UTC()).Scan(
		&cursor.ConnectionID,
		&cursor.Position,
		&cursor.Sequence,
		&cursor.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("cursor for connection %s moved past %d: %w", connectionID, expectedSeq, ErrStaleCursor)
		}
		return nil, fmt.Errorf("failed to advance cursor: %w", err)
	}
	return cursor, nil
}

// Reset drops the cursor so the next run starts from the provider's initial window
func (r *cursorRepository) Reset(ctx context.Context, connectionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cursors WHERE connection_id = $1`, connectionID); err != nil {
		return fmt.Errorf("failed to reset cursor: %w", err)
	}
	return nil
}
