package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/pkg/database"
)

// connectionRepository implements ConnectionRepository interface
type connectionRepository struct {
	db database.Querier
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(db database.Querier) ConnectionRepository {
	return &connectionRepository{db: db}
}

const connectionColumns = `id, user_id, provider, provider_user_id, is_active, sync_status,
	sync_error, sync_error_kind, sync_started_at, sync_run_id, last_sync_at, created_at, updated_at`

// Upsert creates the connection or reactivates the existing one for (user, provider).
// Reconnecting resets the status to pending, clears the last failure and keeps the original ID.
func (r *connectionRepository) Upsert(ctx context.Context, conn *domain.Connection) error {
	query := `
		INSERT INTO connections (id, user_id, provider, provider_user_id, is_active, sync_status,
			sync_error, sync_started_at, last_sync_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, $5, NULL, NULL, NULL, $6, $6)
		ON CONFLICT (user_id, provider) DO UPDATE SET
			provider_user_id = EXCLUDED.provider_user_id,
			is_active = TRUE,
			sync_status = CASE WHEN connections.sync_status = 'syncing'
				THEN connections.sync_status ELSE EXCLUDED.sync_status END,
			sync_error = NULL,
			sync_error_kind = NULL,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + connectionColumns

	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.SyncStatus == "" {
		conn.SyncStatus = domain.SyncStatusPending
	}

	now := time.Now().UTC()
	stored, err := scanConnection(r.db.QueryRowContext(ctx, query,
		conn.ID,
		conn.UserID,
		conn.Provider,
		conn.ProviderUserID,
		conn.SyncStatus,
		now,
	))
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	*conn = *stored
	return nil
}

// Get retrieves the connection of a user for a provider
func (r *connectionRepository) Get(ctx context.Context, userID string, provider domain.Provider) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 AND provider = $2`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, userID, provider))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("connection %s for user %s not found: %w", provider, userID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return conn, nil
}

// GetByID retrieves a connection by ID
func (r *connectionRepository) GetByID(ctx context.Context, id string) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("connection with id %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get connection by id: %w", err)
	}
	return conn, nil
}

// ListByUser retrieves all connections of a user, active or not
func (r *connectionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE user_id = $1 ORDER BY provider`

	return r.list(ctx, query, userID)
}

// ListDue retrieves active connections whose last sync is older than syncedBefore,
// plus those whose syncing mark is older than staleBefore. Connections waiting for
// a reconnect after an auth failure are left out.
func (r *connectionRepository) ListDue(ctx context.Context, syncedBefore, staleBefore time.Time, limit int) ([]*domain.Connection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM connections
		WHERE is_active
			AND sync_error_kind IS DISTINCT FROM '` + domain.KindAuthExpired + `'
			AND (
				(sync_status <> 'syncing' AND (last_sync_at IS NULL OR last_sync_at < $1))
				OR (sync_status = 'syncing' AND (sync_started_at IS NULL OR sync_started_at < $2))
			)
		ORDER BY last_sync_at NULLS FIRST
		LIMIT $3
	`

	return r.list(ctx, query, syncedBefore, staleBefore, limit)
}

// TryStartSync marks the connection as syncing for runID if no live run holds it.
// A syncing mark older than staleBefore is treated as abandoned.
func (r *connectionRepository) TryStartSync(ctx context.Context, id, runID string, now, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE connections
		SET sync_status = 'syncing', sync_run_id = $4, sync_started_at = $2, sync_error = NULL, updated_at = $2
		WHERE id = $1 AND is_active
			AND (sync_status <> 'syncing' OR sync_started_at IS NULL OR sync_started_at < $3)
	`

	result, err := r.db.ExecContext(ctx, query, id, now, staleBefore, runID)
	if err != nil {
		return false, fmt.Errorf("failed to start sync: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// LockClaim reports whether runID still holds the syncing mark of an active connection.
// Inside a transaction the row stays locked until commit, so a concurrent
// deactivation or takeover waits for the caller's writes.
func (r *connectionRepository) LockClaim(ctx context.Context, id, runID string) (bool, error) {
	query := `
		SELECT 1 FROM connections
		WHERE id = $1 AND is_active AND sync_status = 'syncing' AND sync_run_id = $2
		FOR UPDATE
	`

	var one int
	err := r.db.QueryRowContext(ctx, query, id, runID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to lock sync claim: %w", err)
	}
	return true, nil
}

// FinishSync records the outcome of runID and releases the syncing mark.
// It reports false and writes nothing when the run no longer holds the mark.
func (r *connectionRepository) FinishSync(ctx context.Context, id string, outcome SyncOutcome) (bool, error) {
	query := `
		UPDATE connections
		SET sync_status = $3,
			sync_error = $4,
			sync_error_kind = $5,
			sync_started_at = NULL,
			sync_run_id = NULL,
			last_sync_at = CASE WHEN $3 = 'success' THEN $6 ELSE last_sync_at END,
			updated_at = $6
		WHERE id = $1 AND sync_run_id = $2
	`

	var errText, errKind sql.NullString
	if outcome.Error != nil {
		errText = sql.NullString{String: *outcome.Error, Valid: true}
	}
	if outcome.ErrorKind != "" {
		errKind = sql.NullString{String: outcome.ErrorKind, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query, id, outcome.RunID, string(outcome.Status), errText, errKind, outcome.At)
	if err != nil {
		return false, fmt.Errorf("failed to finish sync: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// Deactivate marks a connection inactive; it stays listed
func (r *connectionRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE connections
		SET is_active = FALSE,
			sync_status = CASE WHEN sync_status = 'syncing' THEN 'pending' ELSE sync_status END,
			sync_started_at = NULL,
			sync_run_id = NULL,
			updated_at = $2
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to deactivate connection: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("connection with id %s not found: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteByUser removes every connection of a user with credentials and cursors
func (r *connectionRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete connections: %w", err)
	}
	return result.RowsAffected()
}

func (r *connectionRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var conns []*domain.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, conn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating connections: %w", err)
	}
	return conns, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*domain.Connection, error) {
	conn := &domain.Connection{}
	var (
		syncError     sql.NullString
		syncErrorKind sql.NullString
		syncStartedAt sql.NullTime
		syncRunID     sql.NullString
		lastSyncAt    sql.NullTime
	)

	err := row.Scan(
		&conn.ID,
		&conn.UserID,
		&conn.Provider,
		&conn.ProviderUserID,
		&conn.IsActive,
		&conn.SyncStatus,
		&syncError,
		&syncErrorKind,
		&syncStartedAt,
		&syncRunID,
		&lastSyncAt,
		&conn.CreatedAt,
		&conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if syncError.Valid {
		conn.SyncError = &syncError.String
	}
	conn.SyncErrorKind = syncErrorKind.String
	conn.SyncRunID = syncRunID.String
	if syncStartedAt.Valid {
		conn.SyncStartedAt = &syncStartedAt.Time
	}
	if lastSyncAt.Valid {
		conn.LastSyncAt = &lastSyncAt.Time
	}
	return conn, nil
}
