package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/dto"
	"go.uber.org/zap"
)

// SyncTrigger starts background sync runs
type SyncTrigger interface {
	TriggerSync(ctx context.Context, userID string, provider domain.Provider) error
}

// SyncHandler handles sync requests
type SyncHandler struct {
	syncs  SyncTrigger
	logger *zap.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncs SyncTrigger, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{syncs: syncs, logger: logger}
}

// Trigger starts a sync of one provider and returns without waiting for it
// @Summary Trigger a sync
// @Tags sync
// @Security BearerAuth
// @Produce json
// @Param provider path string true "Provider"
// @Success 202 {object} dto.SyncAcceptedResponse
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse
// @Failure 429 {object} dto.ErrorResponse
// @Router /sync/{provider} [post]
func (h *SyncHandler) Trigger(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	provider, ok := providerParam(c)
	if !ok {
		return
	}

	if err := h.syncs.TriggerSync(c.Request.Context(), userID, provider); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.SyncAcceptedResponse{
		Message:  "Sync initiated for " + string(provider),
		Provider: provider,
		Status:   string(domain.SyncStatusSyncing),
	})
}
