package provider

import (
	"context"
	"os"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-cli/internal/model"
	"github.com/sells-group/dispatch-cli/pkg/asr"
)

// HTTPTranscriber adapts the ASR service client to the Transcriber interface.
type HTTPTranscriber struct {
	client asr.Client
}

// NewHTTPTranscriber wraps an ASR client.
func NewHTTPTranscriber(client asr.Client) *HTTPTranscriber {
	return &HTTPTranscriber{client: client}
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audioPath, languageHint string) (*model.Transcript, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, eris.Wrapf(err, "transcriber: read %s", audioPath)
	}

	result, err := t.client.Transcribe(ctx, audio, asr.CanonicalLanguage(languageHint))
	if err != nil {
		return nil, err
	}

	return &model.Transcript{
		Text:       result.Text,
		Normalized: asr.Normalize(result.Text),
		Confidence: result.Confidence,
		Language:   result.Language,
	}, nil
}

// MockTranscriber is the offline variant. When the stored payload is plain
// text it is used verbatim as the transcript, which makes end-to-end runs
// scriptable without an ASR service.
type MockTranscriber struct {
	Confidence float64
}

// NewMockTranscriber returns a mock reporting the given confidence.
func NewMockTranscriber(confidence float64) *MockTranscriber {
	return &MockTranscriber{Confidence: confidence}
}

func (t *MockTranscriber) Transcribe(ctx context.Context, audioPath, languageHint string) (*model.Transcript, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, eris.Wrapf(err, "transcriber: read %s", audioPath)
	}

	text := "inaudible call audio"
	if utf8.Valid(data) && len(data) > 0 {
		text = string(data)
	}

	return &model.Transcript{
		Text:       text,
		Normalized: asr.Normalize(text),
		Confidence: t.Confidence,
		Language:   asr.CanonicalLanguage(languageHint),
	}, nil
}
