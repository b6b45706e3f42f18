package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/data-vault/internal/dto"
	"github.com/prperemyshlev/data-vault/internal/service"
	"go.uber.org/zap"
)

// RequestLimiter is the limiter used by the rate limit middleware
type RequestLimiter interface {
	service.Limiter
	Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error)
}

// RateLimitMiddleware creates a rate limiting middleware
func RateLimitMiddleware(limiter RequestLimiter, limit int, window time.Duration, keyFunc func(*gin.Context) string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFunc(c)

		allowed, err := limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			// a limiter outage must not lock users out
			logger.Warn("Rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		if remaining, err := limiter.Remaining(c.Request.Context(), key, limit, window); err == nil {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		}

		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.ErrorResponse{
				Error:   "Too Many Requests",
				Message: "Rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// IPBasedKey extracts rate limit key from client IP
func IPBasedKey(c *gin.Context) string {
	ip := c.GetHeader("X-Forwarded-For")
	if ip != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		ips := strings.Split(ip, ",")
		ip = strings.TrimSpace(ips[0])
	} else {
		ip = c.ClientIP()
	}

	return "ip:" + c.FullPath() + ":" + ip
}

// UserBasedKey keys the limit on the authenticated user, falling back to the client IP
func UserBasedKey(c *gin.Context) string {
	if userID := c.GetString(contextUserID); userID != "" {
		return "user:" + c.FullPath() + ":" + userID
	}
	return IPBasedKey(c)
}
