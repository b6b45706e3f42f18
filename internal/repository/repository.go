package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/pkg/database"
)

// Repositories holds all repository interfaces
type Repositories struct {
	User       UserRepository
	Connection ConnectionRepository
	Credential CredentialRepository
	Cursor     CursorRepository
	Record     RecordRepository
	Audit      AuditRepository

	pg *database.Postgres
}

// NewRepositories creates all repositories
func NewRepositories(db *database.Postgres) *Repositories {
	repos := newRepositories(db.DB)
	repos.pg = db
	return repos
}

func newRepositories(q database.Querier) *Repositories {
	return &Repositories{
		User:       NewUserRepository(q),
		Connection: NewConnectionRepository(q),
		Credential: NewCredentialRepository(q),
		Cursor:     NewCursorRepository(q),
		Record:     NewRecordRepository(q),
		Audit:      NewAuditRepository(q),
	}
}

// Transact runs fn with repositories bound to a single transaction
func (r *Repositories) Transact(ctx context.Context, fn func(tx *Repositories) error) error {
	if r.pg == nil {
		return fmt.Errorf("repositories are already bound to a transaction")
	}
	return r.pg.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(newRepositories(tx))
	})
}

// CommitBatch writes batch in one transaction. The connection row is locked
// first, so a disconnect or takeover either waits for the commit or makes it
// fail with ErrClaimLost before anything is written.
func (r *Repositories) CommitBatch(ctx context.Context, batch *SyncBatch) (*BatchResult, error) {
	var result BatchResult
	err := r.Transact(ctx, func(tx *Repositories) error {
		held, err := tx.Connection.LockClaim(ctx, batch.ConnectionID, batch.RunID)
		if err != nil {
			return err
		}
		if !held {
			return fmt.Errorf("connection %s: %w", batch.ConnectionID, ErrClaimLost)
		}

		if result.Inserted, result.Updated, err = tx.Record.UpsertBatch(ctx, batch.Records); err != nil {
			return err
		}
		if batch.Advance {
			if result.Cursor, err = tx.Cursor.Advance(ctx, batch.ConnectionID, batch.ExpectedSeq, batch.Position); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PurgeStats counts what a user purge removed
type PurgeStats struct {
	Connections  int64 `json:"connections_deleted"`
	Records      int64 `json:"records_deleted"`
	AuditEntries int64 `json:"audit_entries_deleted"`
}

// PurgeUser erases every row owned by userID in one transaction.
// Connections go first (credentials and cursors cascade), then records;
// final is appended before the audit log itself is cleared and the user removed.
func (r *Repositories) PurgeUser(ctx context.Context, userID string, final *domain.AuditEntry) (*PurgeStats, error) {
	var stats PurgeStats
	err := r.Transact(ctx, func(tx *Repositories) error {
		var err error
		if stats.Connections, err = tx.Connection.DeleteByUser(ctx, userID); err != nil {
			return err
		}
		if stats.Records, err = tx.Record.DeleteByUser(ctx, userID); err != nil {
			return err
		}

		final.UserID = userID
		if final.Detail == nil {
			final.Detail = map[string]any{}
		}
		final.Detail["connections_deleted"] = stats.Connections
		final.Detail["records_deleted"] = stats.Records
		if err := tx.Audit.Append(ctx, final); err != nil {
			return err
		}

		if stats.AuditEntries, err = tx.Audit.DeleteByUser(ctx, userID); err != nil {
			return err
		}
		return tx.User.Delete(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// inTx runs fn in a transaction unless q already is one
func inTx(ctx context.Context, q database.Querier, fn func(q database.Querier) error) error {
	db, ok := q.(*sql.DB)
	if !ok {
		return fn(q)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
