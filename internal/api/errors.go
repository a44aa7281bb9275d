package api

import (
	"errors"
	"fmt"
	"net/http"
)

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method string
	URL    string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.Status, body)
}

// AuthError means an instance could not be authenticated. It is fatal to the
// whole run.
type AuthError struct {
	Instance string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s instance: %v", e.Instance, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError means a request was still throttled after the single retry.
type RateLimitError struct {
	Endpoint string
	Err      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited on %s after retry: %v", e.Endpoint, e.Err)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// FetchError means a collection could not be read. It aborts the current
// step only.
type FetchError struct {
	Resource string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CreateError is a per-record creation failure.
type CreateError struct {
	Resource string
	Name     string
	Err      error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("failed to create %s %q: %v", e.Resource, e.Name, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

// UpdateError is a per-record update failure.
type UpdateError struct {
	Resource string
	Name     string
	Err      error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("failed to update %s %q: %v", e.Resource, e.Name, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// DeleteError is a per-record deletion failure.
type DeleteError struct {
	Resource string
	Name     string
	Err      error
}

func (e *DeleteError) Error() string {
	return fmt.Sprintf("failed to delete %s %q: %v", e.Resource, e.Name, e.Err)
}

func (e *DeleteError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried anywhere in err's chain, or 0.
func StatusOf(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status
	}
	return 0
}

// IsNotFound reports whether err carries a 404.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// IsAuth reports whether err is, or wraps, an AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}
