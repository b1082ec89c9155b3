// Package asr provides a client for an HTTP speech-to-text service.
package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the transcription operations used by the pipeline.
type Client interface {
	// Transcribe converts audio bytes to text. languageHint may be empty.
	Transcribe(ctx context.Context, audio []byte, languageHint string) (*Transcription, error)
}

// Transcription is the parsed service response.
type Transcription struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

// Option configures the ASR client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new ASR client.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type transcribeRequest struct {
	AudioBase64  string `json:"audio_base64"`
	LanguageHint string `json:"language_hint,omitempty"`
}

func (c *httpClient) Transcribe(ctx context.Context, audio []byte, languageHint string) (*Transcription, error) {
	payload, err := json.Marshal(transcribeRequest{
		AudioBase64:  base64.StdEncoding.EncodeToString(audio),
		LanguageHint: languageHint,
	})
	if err != nil {
		return nil, eris.Wrap(err, "asr: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcribe", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "asr: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "asr: request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "asr: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("asr: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var result Transcription
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "asr: unmarshal response")
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return nil, eris.Errorf("asr: confidence %.3f out of range", result.Confidence)
	}

	return &result, nil
}
