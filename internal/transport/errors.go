// Package transport provides the authenticated session client used to fetch
// resources from a single account's server, with automatic retry, token
// refresh, and error classification.
package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, transport.ErrTokenMismatch) to check.
var (
	ErrBadRequest    = errors.New("transport: bad request")
	ErrTokenMismatch = errors.New("transport: token mismatch")
	ErrForbidden     = errors.New("transport: forbidden")
	ErrNotFound      = errors.New("transport: not found")
	ErrGone          = errors.New("transport: resource gone")
	ErrThrottled     = errors.New("transport: throttled")
	ErrServerError   = errors.New("transport: server error")
	ErrUnexpected    = errors.New("transport: unexpected status")
)

// ErrStopped is returned by requests on a client after Stop.
var ErrStopped = errors.New("transport: client stopped")

// HTTPError wraps a sentinel error with HTTP status code, request ID,
// and the server's error message body for debugging.
type HTTPError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *HTTPError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("transport: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("transport: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-2xx HTTP status code to a sentinel error.
// A 401 means the bearer token no longer matches the server-side session.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrTokenMismatch
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrUnexpected
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
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
