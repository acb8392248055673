package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrTransient marks failures that may succeed on retry: network errors,
	// timeouts, rate limiting and 5xx responses.
	ErrTransient = errors.New("gateway transient failure")
	// ErrNonRetriable marks requests the gateway rejected outright.
	ErrNonRetriable = errors.New("gateway rejected request")
)

// APIError carries the gateway response behind a failed call.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	kind       error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v: %s", e.kind, e.Message)
	}
	return fmt.Sprintf("%v: status %d: %s", e.kind, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.kind }

// NewAPIError builds the error for an HTTP response with the given status,
// classified as transient or non-retriable.
func NewAPIError(status int, message string, retryAfter time.Duration) *APIError {
	return &APIError{StatusCode: status, Message: message, RetryAfter: retryAfter, kind: classifyStatus(status)}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests, status == http.StatusRequestTimeout, status >= 500:
		return ErrTransient
	default:
		return ErrNonRetriable
	}
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
