package providers

import (
	"fmt"
	"strconv"
	"time"
)

// HTTPError wraps a non-2xx response from a provider's HTTP API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Retryable classifies 429 and 5xx as transient; anything else (4xx on a
// well-formed request, auth failures) is treated as permanent.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// AsAPIError converts an HTTPError into the provider-agnostic *APIError
// RetryDo/IsRetryable understand.
func (e *HTTPError) AsAPIError() *APIError {
	return &APIError{StatusCode: e.Status, Retryable: e.Retryable(), Err: e}
}

// ParseRetryAfter parses a Retry-After header value (seconds only; the
// providers this module talks to never send the HTTP-date form).
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
