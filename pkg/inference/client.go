// Package inference extracts structured incident data from call transcripts
// using the Anthropic API.
package inference

import (
	"context"
	"encoding/json"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrBadOutput is returned when the model response cannot be parsed as the
// expected JSON object.
var ErrBadOutput = eris.New("inference: model output is not valid extraction JSON")

// Client defines the extraction operations used by the pipeline.
type Client interface {
	// ExtractIncident pulls structured fields from a transcript. strict
	// selects the re-prompt used after a first schema failure.
	ExtractIncident(ctx context.Context, transcript, retrievedContext string, strict bool) (*IncidentExtraction, error)
}

// IncidentExtraction is the raw parsed model output. Field values are not
// checked against any taxonomy here; that is the caller's validation step.
type IncidentExtraction struct {
	IncidentType string            `json:"incident_type"`
	Urgency      string            `json:"urgency"`
	Location     string            `json:"location"`
	Entities     map[string]string `json:"entities,omitempty"`
	VictimCount  *int              `json:"victim_count,omitempty"`
	Description  string            `json:"description,omitempty"`
}

// Option configures the inference client.
type Option func(*sdkClient)

// WithSDKOptions appends raw SDK request options (for testing against a
// stub server).
func WithSDKOptions(opts ...option.RequestOption) Option {
	return func(c *sdkClient) {
		c.sdkOpts = append(c.sdkOpts, opts...)
	}
}

type sdkClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
	sdkOpts   []option.RequestOption
}

// NewClient creates an extraction client backed by the SDK.
func NewClient(apiKey, model string, maxTokens int, opts ...Option) Client {
	c := &sdkClient{
		model:     model,
		maxTokens: int64(maxTokens),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = sdk.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, c.sdkOpts...)...)
	return c
}

func (c *sdkClient) ExtractIncident(ctx context.Context, transcript, retrievedContext string, strict bool) (*IncidentExtraction, error) {
	system := standardSystemPrompt
	if strict {
		system = strictSystemPrompt
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: system},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPrompt(transcript, retrievedContext))),
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "inference: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	zap.L().Debug("inference: extraction response",
		zap.String("model", c.model),
		zap.Bool("strict", strict),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	return parseExtraction(text.String())
}

// parseExtraction finds and decodes the JSON object in the model output,
// tolerating surrounding prose and markdown fences.
func parseExtraction(raw string) (*IncidentExtraction, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, eris.Wrap(ErrBadOutput, "no JSON object in output")
	}

	var out IncidentExtraction
	dec := json.NewDecoder(strings.NewReader(s[start : end+1]))
	if err := dec.Decode(&out); err != nil {
		return nil, eris.Wrap(ErrBadOutput, err.Error())
	}
	return &out, nil
}
