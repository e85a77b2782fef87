package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingDependency is returned when the cookie helper is not installed.
	ErrMissingDependency = errors.New("cookie helper not installed")

	// ErrNoSession is returned when no usable session cookies were found.
	ErrNoSession = errors.New("no session found")

	// ErrOrgNotFound is returned when the account lists no organization.
	ErrOrgNotFound = errors.New("organization not found")

	// ErrSessionExpired matches HTTP 401 and 403 responses.
	ErrSessionExpired = errors.New("session expired")

	// ErrParse wraps malformed response bodies.
	ErrParse = errors.New("unexpected response")
)

// HTTPError reports a non-2xx response.
type HTTPError struct {
	StatusCode int
	Path       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.Path, e.StatusCode)
}

// Is makes authentication failures match ErrSessionExpired.
func (e *HTTPError) Is(target error) bool {
	return target == ErrSessionExpired &&
		(e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusUnauthorized)
}

// Describe maps a fetch error to a short user-facing string.
func Describe(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingDependency):
		return "Cookie helper not installed"
	case errors.Is(err, ErrNoSession):
		return "No browser session found"
	case errors.Is(err, ErrOrgNotFound):
		return "Organization not found"
	case errors.Is(err, ErrSessionExpired):
		return "Session expired (403), log in again"
	case errors.As(err, &httpErr):
		return fmt.Sprintf("HTTP error %d", httpErr.StatusCode)
	case errors.Is(err, ErrParse):
		return "Unexpected response from server"
	default:
		return "Network error"
	}
}

// resultLabel returns the metrics label for a fetch outcome.
func resultLabel(err error) string {
	var httpErr *HTTPError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMissingDependency):
		return "missing_dependency"
	case errors.Is(err, ErrNoSession):
		return "no_session"
	case errors.Is(err, ErrOrgNotFound):
		return "org_not_found"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.As(err, &httpErr):
		return "http_error"
	case errors.Is(err, ErrParse):
		return "parse_error"
	default:
		return "network_error"
	}
}
