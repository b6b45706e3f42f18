package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/data-vault/internal/connector"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"go.uber.org/zap"
)

const disconnectWait = 30 * time.Second

// ConnectionSummary is the public view of a connection; it never carries credentials
type ConnectionSummary struct {
	ID             string            `json:"id"`
	Provider       domain.Provider   `json:"provider"`
	ProviderUserID string            `json:"provider_user_id"`
	IsActive       bool              `json:"is_active"`
	SyncStatus     domain.SyncStatus `json:"sync_status"`
	SyncError      *string           `json:"sync_error"`
	NeedsReconnect bool              `json:"needs_reconnect"`
	LastSyncAt     *time.Time        `json:"last_sync_at"`
	CreatedAt      time.Time         `json:"created_at"`
}

// DisconnectResult reports what a disconnect removed
type DisconnectResult struct {
	Provider       domain.Provider `json:"provider"`
	RecordsDeleted int64           `json:"records_deleted"`
}

// ConnectionService runs the provider connection lifecycle
type ConnectionService struct {
	connections repository.ConnectionRepository
	records     repository.RecordRepository
	cursors     repository.CursorRepository
	vault       CredentialVault
	oauth       OAuthFlow
	states      StateStore
	connectors  ConnectorRegistry
	syncs       SyncCanceller
	audit       *AuditService
	logger      *zap.Logger
	stateTTL    time.Duration
	now         func() time.Time
}

// NewConnectionService creates a new connection service
func NewConnectionService(
	connections repository.ConnectionRepository,
	records repository.RecordRepository,
	cursors repository.CursorRepository,
	vault CredentialVault,
	oauth OAuthFlow,
	states StateStore,
	connectors ConnectorRegistry,
	syncs SyncCanceller,
	audit *AuditService,
	logger *zap.Logger,
	stateTTL time.Duration,
) *ConnectionService {
	if stateTTL <= 0 {
		stateTTL = DefaultStateTTL
	}
	return &ConnectionService{
		connections: connections,
		records:     records,
		cursors:     cursors,
		vault:       vault,
		oauth:       oauth,
		states:      states,
		connectors:  connectors,
		syncs:       syncs,
		audit:       audit,
		logger:      logger,
		stateTTL:    stateTTL,
		now:         time.Now,
	}
}

// Initiate returns the provider authorization URL for userID
func (s *ConnectionService) Initiate(ctx context.Context, userID string, provider domain.Provider) (string, error) {
	if !s.oauth.Configured(provider) {
		return "", fmt.Errorf("%s: %w", provider, domain.ErrProviderNotConfigured)
	}

	state, err := newState()
	if err != nil {
		return "", err
	}

	pending := PendingConnection{UserID: userID, Provider: provider, CreatedAt: s.now().UTC()}
	if err := s.states.Save(ctx, state, pending, s.stateTTL); err != nil {
		return "", err
	}

	return s.oauth.AuthCodeURL(provider, state)
}

// Complete exchanges code for tokens and creates or reactivates the connection.
// userID may be empty when the caller is the provider redirect; the state then names the user.
func (s *ConnectionService) Complete(ctx context.Context, userID string, provider domain.Provider, state, code string) (*domain.Connection, error) {
	if state == "" || code == "" {
		return nil, fmt.Errorf("%w: missing code or state", ErrInvalidInput)
	}

	pending, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, err
	}
	if pending.Provider != provider || (userID != "" && pending.UserID != userID) {
		return nil, ErrInvalidState
	}

	grant, err := s.oauth.Exchange(ctx, provider, code)
	if err != nil {
		return nil, err
	}

	accountID, err := s.accountID(ctx, provider, grant)
	if err != nil {
		return nil, err
	}

	conn := &domain.Connection{
		UserID:         pending.UserID,
		Provider:       provider,
		ProviderUserID: accountID,
	}
	if err := s.connections.Upsert(ctx, conn); err != nil {
		return nil, fmt.Errorf("failed to save connection: %w", err)
	}

	if err := s.vault.Store(ctx, conn, grant.Tokens); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, conn.UserID, domain.AuditActionConnect, providerRef(provider), map[string]any{
		"provider_user_id": accountID,
	})
	s.logger.Info("Provider connected",
		zap.String("user_id", conn.UserID),
		zap.String("provider", string(provider)),
		zap.String("connection_id", conn.ID),
	)

	return conn, nil
}

func (s *ConnectionService) accountID(ctx context.Context, provider domain.Provider, grant *connector.Grant) (string, error) {
	c, err := s.connectors.Get(provider)
	if err != nil {
		return "", err
	}
	identifier, ok := c.(connector.AccountIdentifier)
	if !ok {
		return "", nil
	}
	id, err := identifier.AccountID(ctx, grant)
	if err != nil {
		return "", fmt.Errorf("failed to resolve provider account: %w", err)
	}
	return id, nil
}

// List returns the connections of userID
func (s *ConnectionService) List(ctx context.Context, userID string) ([]ConnectionSummary, error) {
	conns, err := s.connections.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]ConnectionSummary, 0, len(conns))
	for _, c := range conns {
		out = append(out, ConnectionSummary{
			ID:             c.ID,
			Provider:       c.Provider,
			ProviderUserID: c.ProviderUserID,
			IsActive:       c.IsActive,
			SyncStatus:     c.SyncStatus,
			SyncError:      c.SyncError,
			NeedsReconnect: c.NeedsReconnect(),
			LastSyncAt:     c.LastSyncAt,
			CreatedAt:      c.CreatedAt,
		})
	}
	return out, nil
}

// Disconnect deactivates the connection, stops its run, revokes its credential
// and removes the provider's records. The connection row itself is kept; its
// cursor is reset so a later reconnect fetches the full history again.
func (s *ConnectionService) Disconnect(ctx context.Context, userID string, provider domain.Provider) (*DisconnectResult, error) {
	conn, err := s.connections.Get(ctx, userID, provider)
	if err != nil {
		return nil, err
	}

	if err := s.connections.Deactivate(ctx, conn.ID); err != nil {
		return nil, fmt.Errorf("failed to deactivate connection: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, disconnectWait)
	defer cancel()
	if err := s.syncs.CancelAndWait(waitCtx, conn.ID); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	} else if err != nil {
		s.logger.Warn("Sync run did not stop in time", zap.String("connection_id", conn.ID))
	}

	if err := s.vault.Revoke(ctx, conn); err != nil {
		return nil, err
	}

	deleted, err := s.records.DeleteByProvider(ctx, userID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to delete provider records: %w", err)
	}
	if err := s.cursors.Reset(ctx, conn.ID); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, userID, domain.AuditActionDisconnect, providerRef(provider), map[string]any{
		"records_deleted": deleted,
	})
	s.logger.Info("Provider disconnected",
		zap.String("user_id", userID),
		zap.String("provider", string(provider)),
		zap.Int64("records_deleted", deleted),
	)

	return &DisconnectResult{Provider: provider, RecordsDeleted: deleted}, nil
}
