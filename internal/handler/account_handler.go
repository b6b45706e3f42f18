package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/dto"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"go.uber.org/zap"
)

// AccountPurger erases accounts
type AccountPurger interface {
	Purge(ctx context.Context, userID string) (*repository.PurgeStats, error)
}

// AuditReader lists audit entries
type AuditReader interface {
	List(ctx context.Context, userID string, limit int) ([]*domain.AuditEntry, error)
}

// AccountHandler handles account deletion and audit log requests
type AccountHandler struct {
	accounts AccountPurger
	audit    AuditReader
	logger   *zap.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(accounts AccountPurger, audit AuditReader, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, audit: audit, logger: logger}
}

// Delete erases the account and everything it owns
// @Summary Delete account
// @Tags account
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.SuccessResponse
// @Router /account [delete]
func (h *AccountHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if _, err := h.accounts.Purge(c.Request.Context(), userID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.SuccessResponse{Message: "Account deleted successfully"})
}

// AuditLogs lists the most recent audit entries
// @Summary List audit entries
// @Tags account
// @Security BearerAuth
// @Produce json
// @Param limit query int false "Entries, default 50"
// @Success 200 {array} domain.AuditEntry
// @Router /audit-logs [get]
func (h *AccountHandler) AuditLogs(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var q struct {
		Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	entries, err := h.audit.List(c.Request.Context(), userID, q.Limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if entries == nil {
		entries = []*domain.AuditEntry{}
	}

	c.JSON(http.StatusOK, entries)
}
