// Package errors classifies remote failures so the engine can tell a missing
// server record from a transient transport problem.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCategory determines how errors should be handled by retry logic.
type ErrorCategory int

const (
	// Recoverable errors may succeed on a later attempt.
	// Examples: 500 Internal Server Error, network timeouts, connection failures.
	Recoverable ErrorCategory = iota

	// Irrecoverable errors will not succeed without a change on either side.
	// Examples: 400 Bad Request, 403 Forbidden, 404 Not Found.
	Irrecoverable
)

// String returns a human-readable representation of the error category.
func (c ErrorCategory) String() string {
	switch c {
	case Recoverable:
		return "Recoverable"
	case Irrecoverable:
		return "Irrecoverable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(c))
	}
}

// ClassifiedError wraps an error with categorization metadata.
type ClassifiedError struct {
	Category   ErrorCategory
	StatusCode int    // HTTP status code (0 for non-HTTP errors)
	Body       string // Response body for debugging
	Underlying error  // The original error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] HTTP %d: %v", e.Category, e.StatusCode, e.Underlying)
	}
	return fmt.Sprintf("[%s] %v", e.Category, e.Underlying)
}

// Unwrap returns the underlying error for error chain compatibility.
func (e *ClassifiedError) Unwrap() error {
	return e.Underlying
}

// IsIrrecoverable returns true if the error should not be retried.
func IsIrrecoverable(err error) bool {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified.Category == Irrecoverable
	}
	return false
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified.StatusCode
	}
	return 0
}

// IsNotFound reports a 404 from the remote API.
func IsNotFound(err error) bool { return StatusCode(err) == http.StatusNotFound }

// IsConflict reports a 409 from the remote API.
func IsConflict(err error) bool { return StatusCode(err) == http.StatusConflict }

// IsAuthExpired reports a 401 from the remote API.
func IsAuthExpired(err error) bool { return StatusCode(err) == http.StatusUnauthorized }

// Kind returns a low-cardinality label for err, used for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsConflict(err):
		return "conflict"
	case IsAuthExpired(err):
		return "auth_expired"
	case IsNotFound(err):
		return "not_found"
	case StatusCode(err) >= 500:
		return "server"
	case StatusCode(err) > 0:
		return "client"
	default:
		return "network"
	}
}
