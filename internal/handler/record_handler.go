package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/dto"
	"github.com/prperemyshlev/data-vault/internal/service"
	"go.uber.org/zap"
)

// RecordLister lists stored records
type RecordLister interface {
	List(ctx context.Context, userID string, q service.RecordQuery) (*service.RecordPage, error)
}

// RecordHandler handles record listing requests
type RecordHandler struct {
	records RecordLister
	logger  *zap.Logger
}

// NewRecordHandler creates a new record handler
func NewRecordHandler(records RecordLister, logger *zap.Logger) *RecordHandler {
	return &RecordHandler{records: records, logger: logger}
}

// List returns a page of records, newest first
// @Summary List records
// @Tags records
// @Security BearerAuth
// @Produce json
// @Param dataset query string false "tracks, workouts or events"
// @Param provider query string false "Provider"
// @Param start query string false "RFC 3339 lower bound"
// @Param end query string false "RFC 3339 upper bound"
// @Param limit query int false "Page size"
// @Param cursor query string false "Cursor of the previous page"
// @Success 200 {object} dto.RecordsResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /records [get]
func (h *RecordHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var q dto.RecordsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err.Error())
		return
	}

	start, err := parseTimeParam(q.Start)
	if err != nil {
		badRequest(c, "start must be an RFC 3339 timestamp")
		return
	}
	end, err := parseTimeParam(q.End)
	if err != nil {
		badRequest(c, "end must be an RFC 3339 timestamp")
		return
	}

	page, err := h.records.List(c.Request.Context(), userID, service.RecordQuery{
		Dataset:  q.Dataset,
		Provider: q.Provider,
		Start:    start,
		End:      end,
		Limit:    q.Limit,
		Cursor:   q.Cursor,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := dto.RecordsResponse{Records: page.Records}
	if resp.Records == nil {
		resp.Records = []*domain.Record{}
	}
	if page.NextCursor != "" {
		resp.NextCursor = &page.NextCursor
	}
	c.JSON(http.StatusOK, resp)
}

func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
