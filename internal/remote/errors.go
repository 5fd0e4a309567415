package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Error categories recorded in queue entries' last_error. The retry cap does
// not distinguish categories, but keeping the tag in front of the message
// lets operator tooling add that distinction later without a schema change.
const (
	CategoryNetwork    = "network"
	CategoryTimeout    = "timeout"
	CategoryValidation = "validation"
	CategoryConflict   = "conflict"
	CategoryServer     = "server"
)

// AuthError indicates the remote rejected our credentials. It is cycle-level:
// no entry-by-entry retry will help until the operator re-authenticates.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("auth rejected (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("auth rejected (status %d): %s", e.StatusCode, e.Message)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// CallError is a per-entry remote failure. Its Error string leads with the
// category tag so it lands in last_error as "category: message".
type CallError struct {
	Category   string
	StatusCode int
	Message    string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// categorize maps an HTTP status to an error category.
func categorize(statusCode int) string {
	switch {
	case statusCode == http.StatusConflict:
		return CategoryConflict
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return CategoryTimeout
	case statusCode >= 400 && statusCode < 500:
		return CategoryValidation
	default:
		return CategoryServer
	}
}
