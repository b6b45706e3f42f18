package domain

import "time"

// AuditAction names an account-affecting action
type AuditAction string

const (
	AuditActionConnect       AuditAction = "connect"
	AuditActionSync          AuditAction = "sync"
	AuditActionDisconnect    AuditAction = "disconnect"
	AuditActionExport        AuditAction = "export"
	AuditActionDeleteAccount AuditAction = "delete_account"
)

// AuditEntry is an immutable log line about an account-affecting action
type AuditEntry struct {
	ID        string         `json:"id" db:"id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Action    AuditAction    `json:"action" db:"action"`
	Provider  *Provider      `json:"provider,omitempty" db:"provider"`
	Detail    map[string]any `json:"detail" db:"detail"`
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
}
