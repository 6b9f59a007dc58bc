package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/prunekit/gluetune/internal/telemetry"
)

const (
	// DefaultHTTPTimeout is the default timeout for hub requests
	DefaultHTTPTimeout = 120 * time.Second
	// DefaultMaxRetries is the default maximum number of retry attempts
	DefaultMaxRetries = 3
	// DefaultBaseRetryDelay is the base delay for exponential backoff
	DefaultBaseRetryDelay = 2 * time.Second
	// RateLimitBackoffMultiplier is the multiplier for rate limit backoff (3^n)
	RateLimitBackoffMultiplier = 3
	// DefaultRequestsPerMinute bounds how fast the client hits one host
	DefaultRequestsPerMinute = 300
)

// Client handles HTTP requests against hub endpoints
type Client struct {
	httpClient        *http.Client
	rateLimiterPool   *RateLimiterPool
	logger            *slog.Logger
	collector         *telemetry.Collector
	token             string
	maxRetries        int
	baseRetryDelay    time.Duration
	requestsPerMinute int
}

// NewClient creates a new hub client. The token may be empty for anonymous
// access; the collector may be nil.
func NewClient(token string, collector *telemetry.Collector, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: DefaultHTTPTimeout,
		},
		rateLimiterPool:   NewRateLimiterPool(),
		logger:            logger,
		collector:         collector,
		token:             token,
		maxRetries:        DefaultMaxRetries,
		baseRetryDelay:    DefaultBaseRetryDelay,
		requestsPerMinute: DefaultRequestsPerMinute,
	}
}

// SetRequestsPerMinute overrides the per-host request budget
func (c *Client) SetRequestsPerMinute(requestsPerMinute int) {
	if requestsPerMinute > 0 {
		c.requestsPerMinute = requestsPerMinute
	}
}

// GetJSON fetches rawURL and decodes the response body into out
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	return c.doWithRetry(ctx, http.MethodGet, rawURL, "", nil, out)
}

// Post sends body to rawURL and decodes the response body into out when
// out is non-nil
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body []byte, out any) error {
	return c.doWithRetry(ctx, http.MethodPost, rawURL, contentType, body, out)
}

func (c *Client) doWithRetry(ctx context.Context, method, rawURL, contentType string, body []byte, out any) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid hub url %s: %w", rawURL, err)
	}

	// Rate limit per host so dataset and file endpoints don't starve each other.
	waitStart := time.Now()
	if err := c.rateLimiterPool.Wait(ctx, parsed.Host, c.requestsPerMinute); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}
	if c.collector != nil {
		c.collector.RecordRateLimiterWait(parsed.Host, time.Since(waitStart))
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseRetryDelay

			// Rate limit responses get longer delays (3^n: 6s, 18s, 54s).
			if hubErr, ok := lastErr.(*HubError); ok && hubErr.StatusCode == http.StatusTooManyRequests {
				backoff = time.Duration(math.Pow(RateLimitBackoffMultiplier, float64(attempt))) * c.baseRetryDelay
			}

			jitter := time.Duration(float64(backoff) * 0.1 * (2*float64(time.Now().UnixNano()%100)/100 - 1))
			sleepDuration := backoff + jitter

			c.logger.Warn("Retrying hub request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"backoff", sleepDuration,
				"url", rawURL)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleepDuration):
			}
		}

		err := c.doOnce(ctx, method, rawURL, parsed.Path, contentType, body, out)
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, rawURL, endpoint, contentType string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.collector != nil {
		c.collector.RecordHubRequest(endpoint, time.Since(start), err == nil && resp != nil && resp.StatusCode < 400)
	}
	if err != nil {
		return &HubError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
		}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn("Failed to close response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HubError{
			Message:    fmt.Sprintf("hub request failed: %s", truncateBody(respBody)),
			StatusCode: resp.StatusCode,
			Retryable:  isStatusCodeRetryable(resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response from %s: %w", endpoint, err)
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 500
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}

func isRetryable(err error) bool {
	if hubErr, ok := err.(*HubError); ok {
		return hubErr.Retryable
	}
	return false
}

func isStatusCodeRetryable(statusCode int) bool {
	// Retry on rate limits and server errors
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}

// HubError represents an error response from a hub endpoint
type HubError struct {
	Message    string
	StatusCode int
	Retryable  bool
}

func (e *HubError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("hub error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("hub error: %s", e.Message)
}

// IsNotFound reports whether err is a hub 404 response
func IsNotFound(err error) bool {
	hubErr, ok := err.(*HubError)
	return ok && hubErr.StatusCode == http.StatusNotFound
}
