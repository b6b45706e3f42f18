// Package connector talks to third-party provider APIs and maps their items to unified records.
package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/pkg/observability"
	"go.uber.org/zap"
)

// Page is one fetched batch of raw provider items
type Page struct {
	Items      []json.RawMessage
	NextCursor string
	HasMore    bool
}

// Connector fetches pages from one provider and maps their items to records.
// Cursors are opaque to callers; an empty cursor means "start from the beginning".
type Connector interface {
	Provider() domain.Provider
	Dataset() domain.Dataset
	Fetch(ctx context.Context, cursor string, tokens domain.TokenPair) (*Page, error)
	MapToUnified(raw json.RawMessage) (*domain.Record, error)
}

// AccountIdentifier resolves the provider-side account id of a fresh grant
type AccountIdentifier interface {
	AccountID(ctx context.Context, grant *Grant) (string, error)
}

// Options configures a connector's API client
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	PageSize   int
	Metrics    *observability.SyncMetrics
	Logger     *zap.Logger
	Now        func() time.Time
}

func (o Options) pageSize(def int) int {
	if o.PageSize > 0 && o.PageSize <= def {
		return o.PageSize
	}
	return def
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Registry resolves connectors by provider
type Registry struct {
	connectors map[domain.Provider]Connector
}

// NewRegistry creates a registry of the given connectors
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[domain.Provider]Connector, len(connectors))}
	for _, c := range connectors {
		r.connectors[c.Provider()] = c
	}
	return r
}

// Get returns the connector of provider or domain.ErrUnsupportedProvider
func (r *Registry) Get(provider domain.Provider) (Connector, error) {
	c, ok := r.connectors[provider]
	if !ok {
		return nil, fmt.Errorf("%s: %w", provider, domain.ErrUnsupportedProvider)
	}
	return c, nil
}

// malformed wraps an item mapping failure
func malformed(provider domain.Provider, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", provider, fmt.Sprintf(format, args...), domain.ErrMalformedItem)
}
