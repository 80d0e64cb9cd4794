// internal/errors/errors.go
package errors

import (
	"fmt"
	"time"
)

// ErrInvalidRepoFormat is returned when a repository identifier is not in 'owner/name' format.
type ErrInvalidRepoFormat struct {
	Repo string
}

func (e *ErrInvalidRepoFormat) Error() string {
	return fmt.Sprintf("invalid repository format: %q, expected 'owner/name'", e.Repo)
}

// AuthError covers a missing or malformed private key and a failed
// installation-token exchange. Never retried.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("github authentication failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("github authentication failed: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError is raised once the remaining quota hits zero. Callers must
// not attempt further API calls before ResetAt.
type RateLimitError struct {
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("github API rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// TransientError wraps a timeout or connection failure after the retry
// budget is exhausted.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("github request failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// APIError is a completed response with a non-success status. Application
// errors are deterministic and never retried.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	switch e.StatusCode {
	case 404:
		return fmt.Sprintf("resource not found: %s", e.Endpoint)
	case 403:
		return fmt.Sprintf("access forbidden: %s", e.Message)
	case 422:
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("github API error (%d): %s", e.StatusCode, e.Message)
}

// NotFound reports whether err is an APIError for a missing resource.
func NotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 404
}

// SyncConflictError is reserved for a reconciler ordering check that does
// not exist yet: stale deliveries currently overwrite newer data.
type SyncConflictError struct {
	Kind string
	Key  string
}

func (e *SyncConflictError) Error() string {
	return fmt.Sprintf("sync conflict for %s %s", e.Kind, e.Key)
}
