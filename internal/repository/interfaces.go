package repository

import (
	"context"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
)

// UserRepository defines methods for user operations
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	Delete(ctx context.Context, id string) error
}

// SyncOutcome is what a finished run records on its connection
type SyncOutcome struct {
	RunID     string
	Status    domain.SyncStatus
	Error     *string
	ErrorKind string
	At        time.Time
}

// ConnectionRepository defines methods for provider connections.
// TryStartSync is the compare-and-set guarding at most one run per connection;
// the run ID it stores is required by every later write of that run.
type ConnectionRepository interface {
	Upsert(ctx context.Context, conn *domain.Connection) error
	Get(ctx context.Context, userID string, provider domain.Provider) (*domain.Connection, error)
	GetByID(ctx context.Context, id string) (*domain.Connection, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Connection, error)
	ListDue(ctx context.Context, syncedBefore, staleBefore time.Time, limit int) ([]*domain.Connection, error)
	TryStartSync(ctx context.Context, id, runID string, now, staleBefore time.Time) (bool, error)
	LockClaim(ctx context.Context, id, runID string) (bool, error)
	FinishSync(ctx context.Context, id string, outcome SyncOutcome) (bool, error)
	Deactivate(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// CredentialRepository stores encrypted credentials; it never sees plaintext
type CredentialRepository interface {
	Put(ctx context.Context, cred *domain.Credential) error
	Get(ctx context.Context, connectionID string) (*domain.Credential, error)
	Delete(ctx context.Context, connectionID string) error
}

// CursorRepository defines methods for sync cursors
type CursorRepository interface {
	// Get returns the stored cursor, or a zero cursor when the connection never advanced
	Get(ctx context.Context, connectionID string) (*domain.Cursor, error)
	// Advance moves the cursor to position if its sequence still equals expectedSeq
	Advance(ctx context.Context, connectionID string, expectedSeq int64, position string) (*domain.Cursor, error)
	Reset(ctx context.Context, connectionID string) error
}

// SyncBatch is one fetched page of a claimed run, ready to commit.
// Advance is false when the provider position did not move.
type SyncBatch struct {
	ConnectionID string
	RunID        string
	Records      []*domain.Record
	ExpectedSeq  int64
	Position     string
	Advance      bool
}

// BatchResult reports a committed batch; Cursor is nil when it did not advance
type BatchResult struct {
	Inserted int
	Updated  int
	Cursor   *domain.Cursor
}

// BatchCommitter persists a batch and its cursor advance atomically, and only
// while the batch's run still holds its connection
type BatchCommitter interface {
	CommitBatch(ctx context.Context, batch *SyncBatch) (*BatchResult, error)
}

// RecordFilter narrows a record query
type RecordFilter struct {
	UserID    string
	Dataset   domain.Dataset
	Provider  domain.Provider
	Start     *time.Time
	End       *time.Time
	After     *PageCursor
	Limit     int
	Ascending bool
}

// RecordRepository defines methods for the unified record store
type RecordRepository interface {
	UpsertBatch(ctx context.Context, records []*domain.Record) (inserted, updated int, err error)
	Query(ctx context.Context, filter RecordFilter) ([]*domain.Record, error)
	Summarize(ctx context.Context, userID string, since time.Time, topN int) (*domain.RecordSummary, error)
	Stream(ctx context.Context, userID string, fn func(*domain.Record) error) error
	DeleteByProvider(ctx context.Context, userID string, provider domain.Provider) (int64, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}

// AuditRepository defines methods for the append-only audit log
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
	List(ctx context.Context, userID string, limit int) ([]*domain.AuditEntry, error)
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}
