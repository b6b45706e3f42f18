package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/data-vault/internal/dto"
	"github.com/prperemyshlev/data-vault/internal/service"
	"go.uber.org/zap"
)

// Summarizer builds record summaries
type Summarizer interface {
	Summary(ctx context.Context, userID string, rangeDays int, withNarrative bool) (*service.Summary, error)
}

// InsightsHandler handles insight requests
type InsightsHandler struct {
	insights Summarizer
	logger   *zap.Logger
}

// NewInsightsHandler creates a new insights handler
func NewInsightsHandler(insights Summarizer, logger *zap.Logger) *InsightsHandler {
	return &InsightsHandler{insights: insights, logger: logger}
}

// Summary aggregates the user's recent records
// @Summary Record summary
// @Tags insights
// @Security BearerAuth
// @Produce json
// @Param range_days query int false "Window in days, default 30"
// @Param use_ai query bool false "Attach a narrative"
// @Success 200 {object} service.Summary
// @Failure 400 {object} dto.ErrorResponse
// @Router /insights/summary [get]
func (h *InsightsHandler) Summary(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var q dto.SummaryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	summary, err := h.insights.Summary(c.Request.Context(), userID, q.RangeDays, q.UseAI)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
