package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/prperemyshlev/data-vault/sync"

// SyncMetrics holds the instruments of the sync engine
type SyncMetrics struct {
	runs            metric.Int64Counter
	runDuration     metric.Float64Histogram
	records         metric.Int64Counter
	malformed       metric.Int64Counter
	refreshes       metric.Int64Counter
	auditFailures   metric.Int64Counter
	providerRetries metric.Int64Counter
}

// NewSyncMetrics registers the sync instruments on the global meter provider
func NewSyncMetrics() (*SyncMetrics, error) {
	meter := otel.Meter(meterName)
	m := &SyncMetrics{}
	var err error

	if m.runs, err = meter.Int64Counter("sync_runs_total",
		metric.WithDescription("Finished sync runs by provider and status")); err != nil {
		return nil, fmt.Errorf("failed to create sync_runs_total: %w", err)
	}
	if m.runDuration, err = meter.Float64Histogram("sync_run_duration_seconds",
		metric.WithDescription("Wall time of sync runs"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create sync_run_duration_seconds: %w", err)
	}
	if m.records, err = meter.Int64Counter("records_ingested_total",
		metric.WithDescription("Records upserted by provider and outcome")); err != nil {
		return nil, fmt.Errorf("failed to create records_ingested_total: %w", err)
	}
	if m.malformed, err = meter.Int64Counter("malformed_items_total",
		metric.WithDescription("Provider items skipped because they could not be mapped")); err != nil {
		return nil, fmt.Errorf("failed to create malformed_items_total: %w", err)
	}
	if m.refreshes, err = meter.Int64Counter("token_refresh_total",
		metric.WithDescription("Provider token refreshes by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create token_refresh_total: %w", err)
	}
	if m.auditFailures, err = meter.Int64Counter("audit_write_failures_total",
		metric.WithDescription("Audit entries that could not be written")); err != nil {
		return nil, fmt.Errorf("failed to create audit_write_failures_total: %w", err)
	}
	if m.providerRetries, err = meter.Int64Counter("provider_request_retries_total",
		metric.WithDescription("Retried provider API requests by provider and reason")); err != nil {
		return nil, fmt.Errorf("failed to create provider_request_retries_total: %w", err)
	}

	return m, nil
}

// RunFinished records a finished sync run
func (m *SyncMetrics) RunFinished(ctx context.Context, provider, status string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("provider", provider), attribute.String("status", status))
	m.runs.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordsIngested records upsert outcomes of a committed batch
func (m *SyncMetrics) RecordsIngested(ctx context.Context, provider string, inserted, updated int) {
	if m == nil {
		return
	}
	m.records.Add(ctx, int64(inserted), metric.WithAttributes(attribute.String("provider", provider), attribute.String("outcome", "inserted")))
	m.records.Add(ctx, int64(updated), metric.WithAttributes(attribute.String("provider", provider), attribute.String("outcome", "updated")))
}

// MalformedItems records skipped provider items
func (m *SyncMetrics) MalformedItems(ctx context.Context, provider string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.malformed.Add(ctx, int64(n), metric.WithAttributes(attribute.String("provider", provider)))
}

// TokenRefreshed records a provider token refresh attempt
func (m *SyncMetrics) TokenRefreshed(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider), attribute.String("outcome", outcome)))
}

// AuditWriteFailed records an audit entry that was lost
func (m *SyncMetrics) AuditWriteFailed(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.auditFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// ProviderRetry records a retried provider API request
func (m *SyncMetrics) ProviderRetry(ctx context.Context, provider, reason string) {
	if m == nil {
		return
	}
	m.providerRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider), attribute.String("reason", reason)))
}
