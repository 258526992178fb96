package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Custom Error Types
var (
	ErrUnauthorized = errors.New("GitHub API request unauthorized (check token)")
	ErrForbidden    = errors.New("GitHub API request forbidden")
	ErrNotFound     = errors.New("GitHub API resource not found")
	ErrServerError  = errors.New("GitHub API server error")
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Op     string // what was being fetched, e.g. "issue #12"
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	switch e.Code {
	case http.StatusUnauthorized:
		return fmt.Sprintf("%s: authentication failed (401): invalid GitHub token", e.Op)
	case http.StatusForbidden:
		return fmt.Sprintf("%s: forbidden (403): token may lack required permissions or a rate limit was hit: %s", e.Op, e.Body)
	case http.StatusNotFound:
		return fmt.Sprintf("%s: not found (404): resource does not exist or is not accessible", e.Op)
	}
	if e.Body != "" {
		return fmt.Sprintf("%s: HTTP %d %s: %s", e.Op, e.Code, http.StatusText(e.Code), e.Body)
	}
	return fmt.Sprintf("%s: HTTP %d %s", e.Op, e.Code, http.StatusText(e.Code))
}

// StatusCode lets the retry policy classify the failure.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// Is maps status codes onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Code == http.StatusUnauthorized
	case ErrForbidden:
		return e.Code == http.StatusForbidden
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	case ErrServerError:
		return e.Code >= 500
	}
	return false
}
