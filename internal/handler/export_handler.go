package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/data-vault/internal/dto"
	"github.com/prperemyshlev/data-vault/internal/service"
	"go.uber.org/zap"
)

// Exporter writes export archives
type Exporter interface {
	HasRecords(ctx context.Context, userID string) (bool, error)
	FileName(userID string) string
	Export(ctx context.Context, userID string, w io.Writer) (*service.ExportResult, error)
}

// ExportHandler handles export requests
type ExportHandler struct {
	exports Exporter
	logger  *zap.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(exports Exporter, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{exports: exports, logger: logger}
}

// Export streams a ZIP archive of every record of the user
// @Summary Export records
// @Tags export
// @Security BearerAuth
// @Produce application/zip
// @Success 200 {file} binary
// @Failure 404 {object} dto.ErrorResponse
// @Router /export [post]
func (h *ExportHandler) Export(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	ok, err := h.exports.HasRecords(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, dto.ErrorResponse{
			Error:   "Not found",
			Message: "No records to export",
		})
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", `attachment; filename="`+h.exports.FileName(userID)+`"`)
	c.Status(http.StatusOK)

	// headers are gone once the first byte is written; a failure can only cut the stream
	if _, err := h.exports.Export(c.Request.Context(), userID, c.Writer); err != nil {
		h.logger.Error("Export stream failed", zap.String("user_id", userID), zap.Error(err))
		_ = c.Error(err)
		c.Abort()
	}
}
