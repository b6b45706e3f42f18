package service

import (
	"context"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/events"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"go.uber.org/zap"
)

// UserPurger erases a user and everything the user owns in one transaction
type UserPurger interface {
	PurgeUser(ctx context.Context, userID string, final *domain.AuditEntry) (*repository.PurgeStats, error)
}

// AccountService handles account erasure
type AccountService struct {
	purger      UserPurger
	connections repository.ConnectionRepository
	syncs       SyncCanceller
	publisher   events.Publisher
	logger      *zap.Logger
	now         func() time.Time
}

// NewAccountService creates a new account service
func NewAccountService(
	purger UserPurger,
	connections repository.ConnectionRepository,
	syncs SyncCanceller,
	publisher events.Publisher,
	logger *zap.Logger,
) *AccountService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &AccountService{
		purger:      purger,
		connections: connections,
		syncs:       syncs,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
	}
}

// Purge stops the user's runs, then removes connections, credentials, cursors,
// records, the audit log and the user. The final delete_account entry is written
// inside the same transaction right before the audit log is cleared.
func (s *AccountService) Purge(ctx context.Context, userID string) (*repository.PurgeStats, error) {
	conns, err := s.connections.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, disconnectWait)
	defer cancel()
	for _, conn := range conns {
		if err := s.connections.Deactivate(ctx, conn.ID); err != nil {
			return nil, err
		}
		if err := s.syncs.CancelAndWait(waitCtx, conn.ID); err != nil {
			s.logger.Warn("Sync run did not stop before purge", zap.String("connection_id", conn.ID))
		}
	}

	purgedAt := s.now().UTC()
	final := &domain.AuditEntry{
		Action:    domain.AuditActionDeleteAccount,
		Detail:    map[string]any{"timestamp": purgedAt.Format(time.RFC3339)},
		Timestamp: purgedAt,
	}

	stats, err := s.purger.PurgeUser(ctx, userID, final)
	if err != nil {
		return nil, err
	}

	if err := s.publisher.AccountPurged(ctx, events.AccountPurged{UserID: userID, PurgedAt: purgedAt}); err != nil {
		s.logger.Warn("Failed to publish account purge event", zap.String("user_id", userID), zap.Error(err))
	}
	s.logger.Info("Account purged",
		zap.String("user_id", userID),
		zap.Int64("connections_deleted", stats.Connections),
		zap.Int64("records_deleted", stats.Records),
		zap.Int64("audit_entries_deleted", stats.AuditEntries),
	)

	return stats, nil
}
