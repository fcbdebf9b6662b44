// Package http is the retrying client used to reach the Pushgateway and Apprise.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sharkusmanch/fleet-backup/pkg/version"
)

const (
	defaultTimeout      = 30 * time.Second
	connectivityTimeout = 10 * time.Second
)

// RetryConfig configures retry behavior for the HTTP client.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps both the backoff and any Retry-After the server asks for.
	MaxDelay time.Duration
}

// DefaultRetryConfig returns the retry settings used when none are configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Client sends requests with bounded retries on transport errors and
// transient status codes.
type Client struct {
	httpClient *http.Client
	retry      RetryConfig
	logger     *slog.Logger
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// NewClient creates a Client. Without options it retries three times and
// identifies itself with the program version.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		retry:      DefaultRetryConfig(),
		logger:     slog.Default(),
		userAgent:  version.Get().UserAgent(),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}

	return c
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.send(ctx, http.MethodGet, url, "", nil)
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, url string, contentType string, body []byte) (*Response, error) {
	return c.send(ctx, http.MethodPost, url, contentType, body)
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, url string, contentType string, body []byte) (*Response, error) {
	return c.send(ctx, http.MethodPut, url, contentType, body)
}

// send runs the request until it gets a non-retryable answer or runs out of
// attempts. When the last attempt still returns a retryable status, that
// response is returned without an error so callers can report the status.
func (c *Client) send(ctx context.Context, method, url, contentType string, body []byte) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		resp, err := c.attempt(ctx, method, url, contentType, body)
		last := attempt == c.retry.MaxAttempts

		var delay time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			c.logger.Warn("http request failed",
				"method", method,
				"url", url,
				"attempt", attempt,
				"error", err,
			)
			delay = c.backoff(attempt)
		case retryable(resp.StatusCode) && !last:
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(resp.Body))
			c.logger.Warn("http request returned retryable status",
				"method", method,
				"url", url,
				"status", resp.StatusCode,
				"attempt", attempt,
			)
			delay = c.retryAfter(resp.Headers, attempt)
		default:
			return resp, nil
		}

		if last {
			break
		}
		c.logger.Debug("retrying http request", "url", url, "delay", delay)
		if err := wait(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, url, contentType string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data, Headers: resp.Header}, nil
}

// backoff doubles InitialDelay for every attempt, capped at MaxDelay.
func (c *Client) backoff(attempt int) time.Duration {
	delay := c.retry.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.retry.MaxDelay {
			return c.retry.MaxDelay
		}
	}
	return min(delay, c.retry.MaxDelay)
}

// retryAfter prefers a Retry-After header given in seconds over the backoff.
func (c *Client) retryAfter(h http.Header, attempt int) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return min(time.Duration(secs)*time.Second, c.retry.MaxDelay)
		}
	}
	return c.backoff(attempt)
}

func retryable(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CheckConnectivity sends a single GET and expects a 2xx answer.
func (c *Client) CheckConnectivity(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, connectivityTimeout)
	defer cancel()

	resp, err := c.attempt(ctx, http.MethodGet, url, "", nil)
	if err != nil {
		return fmt.Errorf("connectivity check failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("connectivity check returned status %d", resp.StatusCode)
	}
	return nil
}
