// Package provider defines the capability interfaces the pipeline consumes
// and an explicit registry for selecting implementations by configuration.
// Variants are registered once at startup; there is no runtime discovery.
package provider

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-cli/internal/model"
)

// ErrSchemaViolation is returned by an Extractor when the model output does
// not conform to the closed extraction schema. It is not transient: retrying
// the same prompt is pointless, the caller must re-prompt strictly or fail.
var ErrSchemaViolation = eris.New("provider: extraction violates schema")

// Transcriber is the ASR capability.
type Transcriber interface {
	// Transcribe converts call audio into text with a confidence in [0,1].
	Transcribe(ctx context.Context, audioPath, languageHint string) (*model.Transcript, error)
}

// Retriever is the knowledge-retrieval capability.
type Retriever interface {
	// Retrieve finds context relevant to the transcript. HitScore is 0.0 on
	// a miss, up to 1.0 for a strong match.
	Retrieve(ctx context.Context, transcript string) (*model.RetrievalContext, error)
}

// PromptVariant selects how strictly the extractor is instructed.
type PromptVariant int

const (
	PromptStandard PromptVariant = iota
	// PromptStrict is the re-prompt used after a schema validation failure.
	PromptStrict
)

// Extractor is the structured-extraction capability. Implementations must
// return data conforming to the closed incident/urgency enums or
// ErrSchemaViolation; free-form output is never accepted.
type Extractor interface {
	Extract(ctx context.Context, transcript, retrievedContext string, variant PromptVariant) (*model.Extraction, error)
}

// Dispatcher pushes a finished decision downstream.
type Dispatcher interface {
	Push(ctx context.Context, decision *model.Decision, state *model.OperationalState, correlationID string) error
}
