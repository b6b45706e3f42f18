package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/dto"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"github.com/prperemyshlev/data-vault/internal/service"
	"go.uber.org/zap"
)

// respondError maps a service error to its HTTP answer.
// Unknown errors are logged and answered with a generic 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, title, message := http.StatusInternalServerError, "Internal server error", "Something went wrong"

	switch {
	case errors.Is(err, service.ErrInvalidInput):
		status, title, message = http.StatusBadRequest, "Bad request", err.Error()
	case errors.Is(err, domain.ErrUnsupportedProvider):
		status, title, message = http.StatusBadRequest, "Bad request", "Unsupported provider"
	case errors.Is(err, domain.ErrProviderNotConfigured):
		status, title, message = http.StatusBadRequest, "Bad request", "Provider OAuth is not configured"
	case errors.Is(err, service.ErrInvalidState):
		status, title, message = http.StatusBadRequest, "Bad request", "Invalid or expired state"
	case errors.Is(err, service.ErrInvalidCredentials):
		status, title, message = http.StatusUnauthorized, "Unauthorized", "Invalid credentials"
	case errors.Is(err, repository.ErrNotFound):
		status, title, message = http.StatusNotFound, "Not found", "Resource not found"
	case errors.Is(err, service.ErrNothingToExport):
		status, title, message = http.StatusNotFound, "Not found", "No records to export"
	case errors.Is(err, service.ErrUserExists):
		status, title, message = http.StatusConflict, "Conflict", "Email already registered"
	case errors.Is(err, domain.ErrAlreadySyncing):
		status, title, message = http.StatusConflict, "Conflict", "Sync already in progress"
	case errors.Is(err, service.ErrConnectionInactive):
		status, title, message = http.StatusConflict, "Conflict", "Connection is not active, reconnect the provider"
	case errors.Is(err, service.ErrRateLimited):
		status, title, message = http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded"
	case errors.Is(err, domain.ErrAuthExpired), errors.Is(err, domain.ErrPermanentProvider):
		status, title, message = http.StatusBadGateway, "Bad gateway", domain.UserMessage(err)
	case errors.Is(err, domain.ErrTransientProvider):
		status, title, message = http.StatusServiceUnavailable, "Service unavailable", domain.UserMessage(err)
	default:
		logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}

	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: title, Message: message})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "Validation failed",
		Message: message,
	})
}

func providerParam(c *gin.Context) (domain.Provider, bool) {
	provider, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "Bad request",
			Message: "Unsupported provider",
		})
		return "", false
	}
	return provider, true
}
