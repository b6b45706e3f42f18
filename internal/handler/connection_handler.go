package handler

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/dto"
	"github.com/prperemyshlev/data-vault/internal/service"
	"go.uber.org/zap"
)

// ConnectionManager is the connection lifecycle used by ConnectionHandler
type ConnectionManager interface {
	Initiate(ctx context.Context, userID string, provider domain.Provider) (string, error)
	Complete(ctx context.Context, userID string, provider domain.Provider, state, code string) (*domain.Connection, error)
	List(ctx context.Context, userID string) ([]service.ConnectionSummary, error)
	Disconnect(ctx context.Context, userID string, provider domain.Provider) (*service.DisconnectResult, error)
}

// ConnectionHandler handles provider connection requests
type ConnectionHandler struct {
	connections ConnectionManager
	appURL      string
	logger      *zap.Logger
}

// NewConnectionHandler creates a new connection handler; appURL receives callback redirects
func NewConnectionHandler(connections ConnectionManager, appURL string, logger *zap.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		connections: connections,
		appURL:      strings.TrimRight(appURL, "/"),
		logger:      logger,
	}
}

// Authorize returns the provider authorization URL
// @Summary Start a provider connection
// @Tags connections
// @Security BearerAuth
// @Produce json
// @Param provider path string true "spotify, strava or google_calendar"
// @Success 200 {object} dto.AuthorizeResponse
// @Failure 400 {object} dto.ErrorResponse
// @Router /oauth/{provider}/authorize [get]
func (h *ConnectionHandler) Authorize(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	provider, ok := providerParam(c)
	if !ok {
		return
	}

	authURL, err := h.connections.Initiate(c.Request.Context(), userID, provider)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.AuthorizeResponse{AuthURL: authURL})
}

// Callback is the provider redirect target. It completes the connection
// and redirects the browser back to the app.
// @Summary OAuth callback
// @Tags connections
// @Param provider path string true "Provider"
// @Param code query string false "Authorization code"
// @Param state query string false "State"
// @Param error query string false "Provider error"
// @Success 302
// @Router /oauth/callback/{provider} [get]
func (h *ConnectionHandler) Callback(c *gin.Context) {
	if providerErr := c.Query("error"); providerErr != "" {
		h.redirect(c, "/", url.Values{"error": {providerErr}})
		return
	}

	code, state := c.Query("code"), c.Query("state")
	if code == "" || state == "" {
		h.redirect(c, "/", url.Values{"error": {"missing_parameters"}})
		return
	}

	provider, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		h.redirect(c, "/", url.Values{"error": {"unsupported_provider"}})
		return
	}

	if _, err := h.connections.Complete(c.Request.Context(), "", provider, state, code); err != nil {
		reason := "token_exchange_failed"
		if errors.Is(err, service.ErrInvalidState) {
			reason = "invalid_state"
		}
		h.logger.Warn("OAuth callback failed",
			zap.String("provider", string(provider)),
			zap.String("reason", reason),
			zap.Error(err),
		)
		h.redirect(c, "/", url.Values{"error": {reason}})
		return
	}

	h.redirect(c, "/connections", url.Values{"success": {"true"}, "provider": {string(provider)}})
}

// Complete finishes a connection from code and state relayed by the client
// @Summary Complete a provider connection
// @Tags connections
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param provider path string true "Provider"
// @Param request body dto.CompleteConnectionRequest true "Callback parameters"
// @Success 200 {object} service.ConnectionSummary
// @Failure 400 {object} dto.ErrorResponse
// @Router /connections/{provider}/complete [post]
func (h *ConnectionHandler) Complete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	provider, ok := providerParam(c)
	if !ok {
		return
	}

	var req dto.CompleteConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	conn, err := h.connections.Complete(c.Request.Context(), userID, provider, req.State, req.Code)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, service.ConnectionSummary{
		ID:             conn.ID,
		Provider:       conn.Provider,
		ProviderUserID: conn.ProviderUserID,
		IsActive:       conn.IsActive,
		SyncStatus:     conn.SyncStatus,
		LastSyncAt:     conn.LastSyncAt,
		CreatedAt:      conn.CreatedAt,
	})
}

// List returns the user's connections
// @Summary List connections
// @Tags connections
// @Security BearerAuth
// @Produce json
// @Success 200 {array} service.ConnectionSummary
// @Router /connections [get]
func (h *ConnectionHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	list, err := h.connections.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// Disconnect removes a provider connection and its records
// @Summary Disconnect a provider
// @Tags connections
// @Security BearerAuth
// @Produce json
// @Param provider path string true "Provider"
// @Success 200 {object} service.DisconnectResult
// @Failure 404 {object} dto.ErrorResponse
// @Router /providers/{provider} [delete]
func (h *ConnectionHandler) Disconnect(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	provider, ok := providerParam(c)
	if !ok {
		return
	}

	result, err := h.connections.Disconnect(c.Request.Context(), userID, provider)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":         "Provider " + string(provider) + " disconnected",
		"provider":        result.Provider,
		"records_deleted": result.RecordsDeleted,
	})
}

func (h *ConnectionHandler) redirect(c *gin.Context, path string, query url.Values) {
	c.Redirect(http.StatusFound, h.appURL+path+"?"+query.Encode())
}
