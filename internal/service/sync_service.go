package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/data-vault/internal/connector"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/events"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"github.com/prperemyshlev/data-vault/pkg/observability"
	"go.uber.org/zap"
)

const (
	// DefaultSyncTimeout bounds a run; a syncing mark older than this is reclaimable
	DefaultSyncTimeout = 30 * time.Minute

	finishTimeout = 10 * time.Second
)

// SyncResult summarizes one sync run
type SyncResult struct {
	ConnectionID string            `json:"connection_id"`
	Provider     domain.Provider   `json:"provider"`
	Status       domain.SyncStatus `json:"status"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	Batches      int               `json:"batches"`
	Inserted     int               `json:"inserted"`
	Updated      int               `json:"updated"`
	Malformed    int               `json:"malformed"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
}

// SyncDependencies wires the orchestrator to its stores and collaborators
type SyncDependencies struct {
	Connections repository.ConnectionRepository
	Cursors     repository.CursorRepository
	Batches     repository.BatchCommitter
	Vault       CredentialVault
	Connectors  ConnectorRegistry
	Audit       *AuditService
	Publisher   events.Publisher
	Limiter     Limiter
	Metrics     *observability.SyncMetrics
	Logger      *zap.Logger
}

// SyncSettings holds the orchestrator tunables
type SyncSettings struct {
	Timeout       time.Duration
	TriggerLimit  int
	TriggerWindow time.Duration
}

type runHandle struct {
	stop context.CancelFunc
	done chan struct{}
}

// SyncService drives incremental sync runs.
// The connection status CAS in Postgres is the only mutex between runs;
// batches of one run are persisted and cursor-advanced strictly in fetch order.
type SyncService struct {
	SyncDependencies
	settings SyncSettings
	now      func() time.Time

	base     context.Context
	shutdown context.CancelFunc

	mu      sync.Mutex
	running map[string]*runHandle
	wg      sync.WaitGroup
}

// NewSyncService creates a new sync orchestrator
func NewSyncService(deps SyncDependencies, settings SyncSettings) *SyncService {
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultSyncTimeout
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NoopPublisher{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	base, shutdown := context.WithCancel(context.Background())
	return &SyncService{
		SyncDependencies: deps,
		settings:         settings,
		now:              time.Now,
		base:             base,
		shutdown:         shutdown,
		running:          make(map[string]*runHandle),
	}
}

// TriggerSync starts a background run for the user's provider connection.
// A nil error means the run was accepted; domain.ErrAlreadySyncing means another run owns it.
func (s *SyncService) TriggerSync(ctx context.Context, userID string, provider domain.Provider) error {
	conn, err := s.activeConnection(ctx, userID, provider)
	if err != nil {
		return err
	}

	if s.Limiter != nil && s.settings.TriggerLimit > 0 {
		allowed, err := s.Limiter.Allow(ctx, "sync:"+userID, s.settings.TriggerLimit, s.settings.TriggerWindow)
		if err != nil {
			s.Logger.Warn("Sync trigger limiter unavailable", zap.String("user_id", userID), zap.Error(err))
		} else if !allowed {
			return ErrRateLimited
		}
	}

	if err := s.claim(ctx, conn); err != nil {
		return err
	}
	stopCtx, unregister := s.register(s.base, conn.ID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unregister()
		_, _ = s.run(s.base, stopCtx, conn)
	}()

	return nil
}

// RunSync claims the connection and runs a sync to completion
func (s *SyncService) RunSync(ctx context.Context, userID string, provider domain.Provider) (*SyncResult, error) {
	conn, err := s.activeConnection(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	return s.SyncConnection(ctx, conn)
}

// SyncConnection claims conn and runs a sync to completion.
// The returned error is the run's failure, already recorded on the connection.
func (s *SyncService) SyncConnection(ctx context.Context, conn *domain.Connection) (*SyncResult, error) {
	if err := s.claim(ctx, conn); err != nil {
		return nil, err
	}
	stopCtx, unregister := s.register(ctx, conn.ID)
	defer unregister()

	return s.run(ctx, stopCtx, conn)
}

// Cancel asks the run of connectionID to stop before its next fetch or commit
func (s *SyncService) Cancel(connectionID string) {
	s.mu.Lock()
	h, ok := s.running[connectionID]
	s.mu.Unlock()
	if ok {
		h.stop()
	}
}

// CancelAndWait cancels the run of connectionID and waits until it has stopped
func (s *SyncService) CancelAndWait(ctx context.Context, connectionID string) error {
	s.mu.Lock()
	h, ok := s.running[connectionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	h.stop()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every triggered run has finished
func (s *SyncService) Wait() {
	s.wg.Wait()
}

// Shutdown cancels all triggered runs and waits for them
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.shutdown()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SyncService) activeConnection(ctx context.Context, userID string, provider domain.Provider) (*domain.Connection, error) {
	conn, err := s.Connections.Get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}
	if !conn.IsActive {
		return nil, ErrConnectionInactive
	}
	return conn, nil
}

func (s *SyncService) claim(ctx context.Context, conn *domain.Connection) error {
	now := s.now().UTC()
	runID := uuid.NewString()
	ok, err := s.Connections.TryStartSync(ctx, conn.ID, runID, now, now.Add(-s.settings.Timeout))
	if err != nil {
		return fmt.Errorf("failed to claim connection: %w", err)
	}
	if !ok {
		return domain.ErrAlreadySyncing
	}
	conn.SyncStatus = domain.SyncStatusSyncing
	conn.SyncStartedAt = &now
	conn.SyncRunID = runID
	return nil
}

// register makes a claimed run cancellable; stop is derived from parent so shutdown stops it too
func (s *SyncService) register(parent context.Context, connectionID string) (context.Context, func()) {
	stopCtx, stop := context.WithCancel(parent)
	h := &runHandle{stop: stop, done: make(chan struct{})}

	s.mu.Lock()
	s.running[connectionID] = h
	s.mu.Unlock()

	return stopCtx, func() {
		s.mu.Lock()
		if s.running[connectionID] == h {
			delete(s.running, connectionID)
		}
		s.mu.Unlock()
		stop()
		close(h.done)
	}
}

// run executes a claimed connection's sync.
// Cancellation through stopCtx is observed between batches; in-flight provider
// calls run on an operation context bounded only by the sync timeout.
func (s *SyncService) run(parent, stopCtx context.Context, conn *domain.Connection) (*SyncResult, error) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.settings.Timeout)
	defer cancel()

	result := &SyncResult{
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
		StartedAt:    s.now().UTC(),
	}

	logger := s.Logger.With(
		zap.String("connection_id", conn.ID),
		zap.String("user_id", conn.UserID),
		zap.String("provider", string(conn.Provider)),
	)
	logger.Info("Sync started")

	runErr := s.sync(stopCtx, opCtx, conn, result, logger)
	s.finish(opCtx, conn, result, runErr, logger)

	return result, runErr
}

func (s *SyncService) sync(stopCtx, opCtx context.Context, conn *domain.Connection, result *SyncResult, logger *zap.Logger) error {
	c, err := s.Connectors.Get(conn.Provider)
	if err != nil {
		return err
	}

	cursor, err := s.Cursors.Get(opCtx, conn.ID)
	if err != nil {
		return fmt.Errorf("%w: read cursor: %w", domain.ErrStoreWrite, err)
	}
	position, sequence := cursor.Position, cursor.Sequence

	for {
		if err := stopCtx.Err(); err != nil {
			return context.Canceled
		}

		page, err := s.fetch(opCtx, conn, c, position)
		if err != nil {
			return err
		}

		records, malformed := s.mapItems(c, conn, page.Items)
		if malformed > 0 {
			result.Malformed += malformed
			s.Metrics.MalformedItems(opCtx, string(conn.Provider), malformed)
			logger.Warn("Skipped malformed provider items", zap.Int("count", malformed))
		}

		if err := stopCtx.Err(); err != nil {
			return context.Canceled
		}

		advance := page.NextCursor != position
		// An unchanged position with no records has nothing to commit; skipping keeps reruns idempotent.
		if len(records) > 0 || advance {
			committed, err := s.Batches.CommitBatch(opCtx, &repository.SyncBatch{
				ConnectionID: conn.ID,
				RunID:        conn.SyncRunID,
				Records:      records,
				ExpectedSeq:  sequence,
				Position:     page.NextCursor,
				Advance:      advance,
			})
			if errors.Is(err, repository.ErrClaimLost) {
				return fmt.Errorf("%w: %w", context.Canceled, err)
			}
			if err != nil {
				return fmt.Errorf("%w: commit batch: %w", domain.ErrStoreWrite, err)
			}
			result.Inserted += committed.Inserted
			result.Updated += committed.Updated
			s.Metrics.RecordsIngested(opCtx, string(conn.Provider), committed.Inserted, committed.Updated)
			if committed.Cursor != nil {
				position, sequence = committed.Cursor.Position, committed.Cursor.Sequence
			}
		}
		if !advance && page.HasMore {
			logger.Warn("Provider reported more items without moving the cursor")
			return nil
		}

		result.Batches++
		if !page.HasMore {
			return nil
		}
	}
}

// fetch gets one page, answering a rejected access token with one forced refresh
func (s *SyncService) fetch(ctx context.Context, conn *domain.Connection, c connector.Connector, position string) (*connector.Page, error) {
	tokens, err := s.Vault.RefreshIfNeeded(ctx, conn)
	if err != nil {
		return nil, err
	}

	page, err := c.Fetch(ctx, position, tokens)
	if !errors.Is(err, connector.ErrUnauthorized) {
		return page, err
	}

	tokens, err = s.Vault.ForceRefresh(ctx, conn)
	if err != nil {
		return nil, err
	}

	page, err = c.Fetch(ctx, position, tokens)
	if errors.Is(err, connector.ErrUnauthorized) {
		return nil, fmt.Errorf("%w: %w", domain.ErrAuthExpired, err)
	}
	return page, err
}

// mapItems maps raw items to records of conn; within a batch the later duplicate wins
func (s *SyncService) mapItems(c connector.Connector, conn *domain.Connection, items []json.RawMessage) ([]*domain.Record, int) {
	now := s.now().UTC()
	records := make([]*domain.Record, 0, len(items))
	index := make(map[domain.RecordKey]int, len(items))
	malformed := 0

	for _, raw := range items {
		rec, err := c.MapToUnified(raw)
		if err != nil {
			malformed++
			continue
		}
		rec.UserID = conn.UserID
		rec.Provider = conn.Provider
		if rec.Dataset == "" {
			rec.Dataset = c.Dataset()
		}
		rec.IngestedAt = now

		if i, ok := index[rec.Key()]; ok {
			records[i] = rec
			continue
		}
		index[rec.Key()] = len(records)
		records = append(records, rec)
	}

	return records, malformed
}

func (s *SyncService) finish(ctx context.Context, conn *domain.Connection, result *SyncResult, runErr error, logger *zap.Logger) {
	result.FinishedAt = s.now().UTC()
	result.Status = domain.SyncStatusSuccess

	var syncErr *string
	if runErr != nil {
		result.Status = domain.SyncStatusError
		result.ErrorKind = domain.ErrorKind(runErr)
		msg := domain.UserMessage(runErr)
		syncErr = &msg
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()

	held, err := s.Connections.FinishSync(ctx, conn.ID, repository.SyncOutcome{
		RunID:     conn.SyncRunID,
		Status:    result.Status,
		Error:     syncErr,
		ErrorKind: result.ErrorKind,
		At:        result.FinishedAt,
	})
	switch {
	case err != nil:
		logger.Error("Failed to record sync outcome", zap.Error(err))
	case !held:
		logger.Warn("Connection was released or taken over; sync outcome not recorded")
	}

	s.Metrics.RunFinished(ctx, string(conn.Provider), string(result.Status), result.FinishedAt.Sub(result.StartedAt).Seconds())

	detail := map[string]any{
		"status":    string(result.Status),
		"batches":   result.Batches,
		"inserted":  result.Inserted,
		"updated":   result.Updated,
		"malformed": result.Malformed,
	}
	if result.ErrorKind != "" {
		detail["error_kind"] = result.ErrorKind
	}
	if s.Audit != nil {
		s.Audit.Record(ctx, conn.UserID, domain.AuditActionSync, providerRef(conn.Provider), detail)
	}

	event := events.SyncFinished{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Provider:     conn.Provider,
		Status:       string(result.Status),
		ErrorKind:    result.ErrorKind,
		Inserted:     result.Inserted,
		Updated:      result.Updated,
		Malformed:    result.Malformed,
		FinishedAt:   result.FinishedAt,
	}
	if err := s.Publisher.SyncFinished(ctx, event); err != nil {
		logger.Warn("Failed to publish sync event", zap.Error(err))
	}

	if runErr != nil {
		logger.Warn("Sync failed",
			zap.Error(runErr),
			zap.String("error_kind", result.ErrorKind),
			zap.Int("inserted", result.Inserted),
			zap.Int("updated", result.Updated),
		)
		return
	}
	logger.Info("Sync finished",
		zap.Int("batches", result.Batches),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("malformed", result.Malformed),
	)
}
