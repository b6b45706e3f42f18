package domain

import "time"

// SyncStatus is the last known state of a connection's sync state machine
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
)

// Connection links a user to one provider account
type Connection struct {
	ID             string     `json:"id" db:"id"`
	UserID         string     `json:"user_id" db:"user_id"`
	Provider       Provider   `json:"provider" db:"provider"`
	ProviderUserID string     `json:"provider_user_id" db:"provider_user_id"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	SyncStatus     SyncStatus `json:"sync_status" db:"sync_status"`
	SyncError      *string    `json:"sync_error" db:"sync_error"`
	SyncErrorKind  string     `json:"sync_error_kind,omitempty" db:"sync_error_kind"`
	SyncStartedAt  *time.Time `json:"-" db:"sync_started_at"`
	SyncRunID      string     `json:"-" db:"sync_run_id"`
	LastSyncAt     *time.Time `json:"last_sync_at" db:"last_sync_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// NeedsReconnect reports whether the last run failed on rejected credentials.
// Such a connection is not synced on schedule until the user reconnects.
func (c *Connection) NeedsReconnect() bool {
	return c.SyncErrorKind == KindAuthExpired
}

// Credential holds the encrypted token pair of a connection.
// The ciphertexts carry their own key version tag.
type Credential struct {
	ConnectionID    string    `db:"connection_id"`
	AccessTokenEnc  string    `db:"access_token_enc"`
	RefreshTokenEnc string    `db:"refresh_token_enc"`
	KeyVersion      int       `db:"key_version"`
	ExpiresAt       time.Time `db:"expires_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

// Cursor records how far a connection's incremental sync has progressed
type Cursor struct {
	ConnectionID string    `db:"connection_id"`
	Position     string    `db:"position"`
	Sequence     int64     `db:"sequence"`
	UpdatedAt    time.Time `db:"updated_at"`
}
