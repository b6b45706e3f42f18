package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/pkg/database"
)

// DefaultAuditLimit is the page size of an audit listing without explicit limit
const DefaultAuditLimit = 50

// auditRepository implements AuditRepository interface
type auditRepository struct {
	db database.Querier
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db database.Querier) AuditRepository {
	return &auditRepository{db: db}
}

// Append writes one audit entry; entries are never updated
func (r *auditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	query := `
		INSERT INTO audit_logs (id, user_id, action, provider, detail, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Detail == nil {
		entry.Detail = map[string]any{}
	}

	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode audit detail: %w", err)
	}

	var provider sql.NullString
	if entry.Provider != nil {
		provider = sql.NullString{String: string(*entry.Provider), Valid: true}
	}

	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		string(entry.Action),
		provider,
		detail,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// List retrieves the most recent audit entries of a user, newest first
func (r *auditRepository) List(ctx context.Context, userID string, limit int) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, user_id, action, provider, detail, timestamp
		FROM audit_logs
		WHERE user_id = $1
		ORDER BY timestamp DESC, id DESC
		LIMIT $2
	`

	if limit <= 0 {
		limit = DefaultAuditLimit
	}

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var (
			entry    = &domain.AuditEntry{}
			provider sql.NullString
			detail   []byte
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Action, &provider, &detail, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if provider.Valid {
			p := domain.Provider(provider.String)
			entry.Provider = &p
		}
		if err := json.Unmarshal(detail, &entry.Detail); err != nil {
			return nil, fmt.Errorf("failed to decode audit detail: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}

// DeleteByUser erases the audit trail of a user; only account purge calls it
func (r *auditRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit entries: %w", err)
	}
	return result.RowsAffected()
}
