package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/ssofetch/internal/resource"
)

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	maxErrorBody   = 4096
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer
// (transport package) per Go convention "accept interfaces, return structs".
type TokenSource interface {
	Token() (string, error)
}

// Response is a successful response. The caller must close Body.
type Response struct {
	Body          io.ReadCloser
	StatusCode    int
	ContentType   string
	ContentLength int64
	RequestID     string
}

// Client is an authenticated HTTP client bound to one account's server.
// It handles request construction, authentication, retry with exponential
// backoff, and error classification. A Client is safe for concurrent use
// until Stop is called.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	userAgent  string
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	stopped  atomic.Bool
	stopOnce gosync.Once
	onStop   func()
}

// NewClient creates a session client. baseURL is the account's server URL
// without a trailing slash; request paths are appended to it.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		userAgent:  userAgent,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// BaseURL returns the server URL the client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request executes method against path with the given query params.
// On success the caller owns the response body. A 401 is reported as
// ErrTokenMismatch; other failures wrap the matching sentinel in *HTTPError.
func (c *Client) Request(ctx context.Context, method, path string, params resource.Params) (*Response, error) {
	if c.stopped.Load() {
		return nil, ErrStopped
	}

	target := c.baseURL + path
	if q := params.Encode(); q != "" {
		target += "?" + q
	}

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, target)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("transport: request canceled: %w", ctx.Err())
			}

			if c.stopped.Load() {
				return nil, ErrStopped
			}

			// Token acquisition failures are not network errors.
			if isTokenError(err) {
				return nil, err
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("transport: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("transport: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		reqID := resp.Header.Get("X-Request-Id")

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return &Response{
				Body:          resp.Body,
				StatusCode:    resp.StatusCode,
				ContentType:   resp.Header.Get("Content-Type"),
				ContentLength: resp.ContentLength,
				RequestID:     reqID,
			}, nil
		}

		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("transport: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			RequestID:  reqID,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// Stop releases the client's resources: it cancels token refresh bound to
// the client's lifetime and closes idle connections. Later requests fail
// with ErrStopped. Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.stopped.Store(true)

		if c.onStop != nil {
			c.onStop()
		}

		c.httpClient.CloseIdleConnections()

		c.logger.Debug("session client stopped", slog.String("url", c.baseURL))
	})
}

// Stopped reports whether Stop has been called.
func (c *Client) Stopped() bool {
	return c.stopped.Load()
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("transport: creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("OCS-APIRequest", "true")
	req.Header.Set("X-Request-Id", uuid.NewString())

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 and 503 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, maxBackoff)
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
