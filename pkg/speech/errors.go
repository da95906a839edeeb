package speech

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when no speech output can be produced.
	// Callers treat it as a degraded mode, not a failure.
	ErrUnavailable = errors.New("speech: unavailable")

	// ErrNoAPIKey is returned when remote synthesis has no key.
	ErrNoAPIKey = errors.New("speech: API key required")

	// ErrEmptyText is returned for blank utterances.
	ErrEmptyText = errors.New("speech: empty text")
)

// APIError is an error response from a remote synthesis API.
type APIError struct {
	StatusCode int
	Message    string
	Provider   string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("speech [%s]: API error %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsUnauthorized returns true for HTTP 401.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401
}

// ProviderError wraps an error with engine context.
type ProviderError struct {
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("speech [%s]: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with engine context.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}
