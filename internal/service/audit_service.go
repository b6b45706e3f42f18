package service

import (
	"context"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"github.com/prperemyshlev/data-vault/pkg/observability"
	"go.uber.org/zap"
)

// AuditService appends audit entries on behalf of other services.
// A failed append is logged and counted; it never undoes the audited action.
type AuditService struct {
	repo    repository.AuditRepository
	metrics *observability.SyncMetrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewAuditService creates a new audit service
func NewAuditService(repo repository.AuditRepository, metrics *observability.SyncMetrics, logger *zap.Logger) *AuditService {
	return &AuditService{repo: repo, metrics: metrics, logger: logger, now: time.Now}
}

// Record appends an audit entry for userID
func (s *AuditService) Record(ctx context.Context, userID string, action domain.AuditAction, provider *domain.Provider, detail map[string]any) {
	entry := &domain.AuditEntry{
		UserID:    userID,
		Action:    action,
		Provider:  provider,
		Detail:    detail,
		Timestamp: s.now().UTC(),
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		s.metrics.AuditWriteFailed(ctx, string(action))
		s.logger.Error("Failed to append audit entry",
			zap.String("user_id", userID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}

// List returns the most recent audit entries of userID
func (s *AuditService) List(ctx context.Context, userID string, limit int) ([]*domain.AuditEntry, error) {
	if limit <= 0 {
		limit = repository.DefaultAuditLimit
	}
	return s.repo.List(ctx, userID, limit)
}

func providerRef(p domain.Provider) *domain.Provider {
	return &p
}
