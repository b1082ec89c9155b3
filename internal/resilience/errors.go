// Package resilience provides retry and circuit breaker patterns for the
// external collaborator calls (ASR, retrieval, inference, dispatch).
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// ProviderError wraps a failure from an external collaborator. Transient
// provider errors leave the broker lease unacknowledged so redelivery drives
// the retry; permanent ones fail the attempt immediately.
type ProviderError struct {
	Provider   string // "asr", "retrieval", "inference", "dispatch"
	Err        error
	StatusCode int
	Transient  bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err as a provider failure. Transience is derived
// from the status code when one is present.
func NewProviderError(provider string, err error, statusCode int) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		Err:        err,
		StatusCode: statusCode,
		Transient:  statusCode == 0 || IsTransientHTTPStatus(statusCode),
	}
}

// IsTransient returns true if the error (or any error in its chain) is a
// transient ProviderError, or matches common transient network patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// String heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the status code indicates a
// server-side issue that is safe to retry. 529 is the overloaded signal the
// Anthropic API sends in place of 503.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504, 529:
		return true
	default:
		return false
	}
}
