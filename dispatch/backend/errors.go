package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrEmptyResponse indicates the backend answered 2xx but returned no usable
// content. The health monitor treats this as a degraded backend.
var ErrEmptyResponse = errors.New("backend: empty response")

// CallError is a failed backend round trip.
//
// StatusCode is zero when the request never produced an HTTP response
// (connection refused, timeout, cancelled context).
type CallError struct {
	Backend    string
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %s: HTTP %d: %v", e.Backend, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("backend %s: %v", e.Backend, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsRetryable classifies a backend call failure for the retry coordinator.
//
// Transient classes (network errors, timeouts, 5xx, throttling) are
// retryable. Anything that a retry cannot fix — 4xx responses, malformed
// requests, caller cancellation — is fatal. Unknown errors are treated as
// fatal so that a misclassified bug is surfaced instead of retried forever.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var callErr *CallError
	if errors.As(err, &callErr) {
		if callErr.StatusCode == 0 {
			// Never got an HTTP response: connection error or timeout.
			return true
		}

		if callErr.StatusCode == http.StatusTooManyRequests {
			return true
		}

		return callErr.StatusCode >= http.StatusInternalServerError
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
