package domain

import (
	"context"
	"errors"
)

// Sync error taxonomy
var (
	// ErrAuthExpired is returned when a refresh token was rejected and the user must reconnect
	ErrAuthExpired = errors.New("provider authorization expired")

	// ErrTransientProvider covers network failures, 5xx and 429 after retries were exhausted
	ErrTransientProvider = errors.New("provider temporarily unavailable")

	// ErrPermanentProvider covers 4xx answers other than authorization failures
	ErrPermanentProvider = errors.New("provider rejected the request")

	// ErrMalformedItem is returned for a raw item that cannot be mapped to a record
	ErrMalformedItem = errors.New("malformed provider item")

	// ErrStoreWrite is returned when a batch or cursor could not be persisted
	ErrStoreWrite = errors.New("store write failure")

	// ErrAlreadySyncing is returned when a run is requested for a connection that is already syncing
	ErrAlreadySyncing = errors.New("already syncing")

	// ErrUnsupportedProvider is returned for provider names outside the reference connectors
	ErrUnsupportedProvider = errors.New("unsupported provider")

	// ErrProviderNotConfigured is returned when a provider has no OAuth client credentials
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// Short reason categories exposed to users and audit details
const (
	KindAuthExpired         = "auth_expired"
	KindProviderUnavailable = "provider_unavailable"
	KindProviderRejected    = "provider_rejected"
	KindStoreUnavailable    = "store_unavailable"
	KindCancelled           = "cancelled"
	KindInternal            = "internal"
)

// ErrorKind maps an error to its short reason category
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthExpired):
		return KindAuthExpired
	case errors.Is(err, ErrTransientProvider):
		return KindProviderUnavailable
	case errors.Is(err, ErrPermanentProvider):
		return KindProviderRejected
	case errors.Is(err, ErrStoreWrite):
		return KindStoreUnavailable
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// UserMessage renders the user-visible sync failure message for err.
// It never contains provider payloads or wrapped error text.
func UserMessage(err error) string {
	kind := ErrorKind(err)
	switch kind {
	case KindAuthExpired:
		return "sync failed (auth_expired), reconnect the provider"
	case KindCancelled:
		return "sync cancelled"
	default:
		return "sync failed (" + kind + "), try again"
	}
}
