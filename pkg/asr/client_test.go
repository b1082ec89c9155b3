package asr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscribe_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/transcribe", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req transcribeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		audio, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		require.NoError(t, err)
		assert.Equal(t, []byte("call audio"), audio)
		assert.Equal(t, "en", req.LanguageHint)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Transcription{
			Text:       "there is a fire on main street",
			Confidence: 0.93,
			Language:   "en",
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key")
	result, err := client.Transcribe(context.Background(), []byte("call audio"), "en")
	require.NoError(t, err)

	assert.Equal(t, "there is a fire on main street", result.Text)
	assert.InDelta(t, 0.93, result.Confidence, 0.001)
	assert.Equal(t, "en", result.Language)
}

func TestTranscribe_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(Transcription{Text: "ok", Confidence: 1})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	_, err := client.Transcribe(context.Background(), []byte("audio"), "")
	require.NoError(t, err)
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	_, err := client.Transcribe(context.Background(), []byte("audio"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
}

func TestTranscribe_ConfidenceOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Transcription{Text: "x", Confidence: 1.7})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	_, err := client.Transcribe(context.Background(), []byte("audio"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestTranscribe_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "key")
	_, err := client.Transcribe(context.Background(), []byte("audio"), "")
	require.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "fire on main street", Normalize("  Fire   ON\tMain Street "))
	assert.Equal(t, "cafe 1", Normalize("Ｃａｆｅ １")) // fullwidth folds to ASCII
	assert.Equal(t, "", Normalize("   "))
}

func TestCanonicalLanguage(t *testing.T) {
	assert.Equal(t, "en", CanonicalLanguage("en"))
	assert.Equal(t, "de", CanonicalLanguage("DE"))
	assert.Equal(t, "en-US", CanonicalLanguage("en_US"))
	assert.Equal(t, "", CanonicalLanguage(""))
	assert.Equal(t, "", CanonicalLanguage("  "))
	assert.Equal(t, "", CanonicalLanguage("!!nonsense!!"))
}
