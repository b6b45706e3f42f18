package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/pkg/observability"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned when the provider rejects the access token.
// The orchestrator answers it with a forced refresh and one retry.
var ErrUnauthorized = errors.New("provider rejected the access token")

// maxErrorBody bounds how much of an error response is drained; it is never kept
const maxErrorBody = 64 << 10

// StatusError is a non-2xx provider answer. It carries only the status code.
type StatusError struct {
	Provider   domain.Provider
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api returned status %d", e.Provider, e.StatusCode)
}

// Unwrap classifies the status into the sync error taxonomy
func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500:
		return domain.ErrTransientProvider
	default:
		return domain.ErrPermanentProvider
	}
}

// apiClient performs authenticated GET requests with bounded retries
type apiClient struct {
	provider   domain.Provider
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	metrics    *observability.SyncMetrics
	logger     *zap.Logger
}

func newAPIClient(provider domain.Provider, defaultBaseURL string, opts Options) *apiClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 4
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &apiClient{
		provider:   provider,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		metrics:    opts.Metrics,
		logger:     logger,
	}
}

// getJSON fetches path with query and decodes a 2xx body into out.
// Network failures, 5xx and 429 are retried; the last failure is returned classified.
func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, accessToken string, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to build %s request: %w", c.provider, err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if attempt < c.maxRetries {
				c.metrics.ProviderRetry(ctx, string(c.provider), "network")
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%s request failed after %d attempts: %w", c.provider, attempt+1, errors.Join(domain.ErrTransientProvider, netError(err)))
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			err := json.NewDecoder(resp.Body).Decode(out)
			_ = resp.Body.Close()
			if err != nil {
				return fmt.Errorf("failed to decode %s response: %w", c.provider, domain.ErrTransientProvider)
			}
			return nil
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()

		statusErr := &StatusError{Provider: c.provider, StatusCode: resp.StatusCode}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if retryable && attempt < c.maxRetries {
			reason := "server_error"
			if resp.StatusCode == http.StatusTooManyRequests {
				reason = "rate_limited"
			}
			c.metrics.ProviderRetry(ctx, string(c.provider), reason)
			c.logger.Debug("Retrying provider request",
				zap.String("provider", string(c.provider)),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return statusErr
	}
}

func (c *apiClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

// parseRetryAfter accepts delta-seconds and HTTP-date forms
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// netError drops the request URL from transport errors, it may carry query parameters
func netError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr
	}
	return err
}
