package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNotification() Notification {
	return Notification{
		CorrelationID:  "corr-1",
		Action:         "auto_dispatch",
		Target:         "fire_brigade",
		IncidentType:   "fire_building",
		Urgency:        "high",
		Location:       "main street 12",
		Confidence:     0.95,
		ReasoningTrace: "score above auto threshold",
	}
}

func TestPush_Success(t *testing.T) {
	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewWebhookPusher(srv.URL, 5*time.Second)
	require.NoError(t, p.Push(context.Background(), testNotification()))

	assert.Equal(t, "fire_brigade", received.Target)
	assert.Equal(t, "fire_building", received.IncidentType)
	assert.InDelta(t, 0.95, received.Confidence, 0.001)
}

func TestPush_RetriesTransientStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "try again", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookPusher(srv.URL, 5*time.Second, WithMaxAttempts(2))
	require.NoError(t, p.Push(context.Background(), testNotification()))
	assert.Equal(t, 2, calls)
}

func TestPush_ClientErrorFailsImmediately(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewWebhookPusher(srv.URL, 5*time.Second, WithMaxAttempts(3))
	err := p.Push(context.Background(), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, 1, calls, "4xx other than 429 must not be retried")
}

func TestPush_ExhaustsAttempts(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewWebhookPusher(srv.URL, 5*time.Second, WithMaxAttempts(2))
	err := p.Push(context.Background(), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Equal(t, 2, calls)
}

func TestPush_ContextCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	p := NewWebhookPusher(srv.URL, 5*time.Second, WithMaxAttempts(3))
	err := p.Push(ctx, testNotification())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPush_ConnectionRefused(t *testing.T) {
	p := NewWebhookPusher("http://127.0.0.1:1", time.Second, WithMaxAttempts(1))
	err := p.Push(context.Background(), testNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestRetryableStatusCode(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503} {
		assert.True(t, retryableStatusCode(code), code)
	}
	for _, code := range []int{200, 400, 401, 404, 410} {
		assert.False(t, retryableStatusCode(code), code)
	}
}
