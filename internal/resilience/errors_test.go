package resilience

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewProviderError_TransienceFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{0, true}, // no status means a connection-level failure
		{400, false},
		{401, false},
		{404, false},
		{408, true},
		{422, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
		{504, true},
		{529, true}, // Anthropic overloaded
	}
	for _, tt := range tests {
		pe := NewProviderError("asr", errors.New("boom"), tt.status)
		if pe.Transient != tt.transient {
			t.Errorf("status %d: Transient = %v, want %v", tt.status, pe.Transient, tt.transient)
		}
	}
}

func TestProviderError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	pe := NewProviderError("inference", inner, 0)

	if got := pe.Error(); got != "inference: connection refused" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(pe, inner) {
		t.Error("expected Unwrap to expose the inner error")
	}
}

func TestIsTransient_WrappedProviderError(t *testing.T) {
	pe := NewProviderError("retrieval", errors.New("overloaded"), 503)
	wrapped := fmt.Errorf("stage retrieve: %w", pe)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped transient provider error to be transient")
	}

	permanent := fmt.Errorf("stage transcribe: %w", NewProviderError("asr", errors.New("bad audio"), 422))
	if IsTransient(permanent) {
		t.Error("expected wrapped permanent provider error to be non-transient")
	}
}

func TestIsTransient_NilAndPlainErrors(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
	if IsTransient(errors.New("schema violation")) {
		t.Error("plain error should not be transient")
	}
}

func TestIsTransient_NetworkPatterns(t *testing.T) {
	for _, msg := range []string{
		"read tcp: connection reset by peer",
		"write: broken pipe",
		"dial tcp: i/o timeout",
		"lookup api.example.com: no such host",
	} {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("%q should be transient", msg)
		}
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504, 529} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("status %d should be transient", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 409, 422} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("status %d should not be transient", code)
		}
	}
}
