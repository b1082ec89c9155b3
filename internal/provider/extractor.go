package provider

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-cli/internal/model"
	"github.com/sells-group/dispatch-cli/internal/pack"
	"github.com/sells-group/dispatch-cli/pkg/inference"
)

// AnthropicExtractor adapts the inference client to the Extractor interface.
type AnthropicExtractor struct {
	client inference.Client
}

// NewAnthropicExtractor wraps an inference client.
func NewAnthropicExtractor(client inference.Client) *AnthropicExtractor {
	return &AnthropicExtractor{client: client}
}

func (e *AnthropicExtractor) Extract(ctx context.Context, transcript, retrievedContext string, variant PromptVariant) (*model.Extraction, error) {
	raw, err := e.client.ExtractIncident(ctx, transcript, retrievedContext, variant == PromptStrict)
	if err != nil {
		if eris.Is(err, inference.ErrBadOutput) {
			return nil, eris.Wrap(ErrSchemaViolation, err.Error())
		}
		return nil, err
	}
	return convertExtraction(raw)
}

// convertExtraction maps raw model output onto the closed taxonomy. Values
// outside the enums are a schema violation, never coerced to "other".
func convertExtraction(raw *inference.IncidentExtraction) (*model.Extraction, error) {
	incident := strings.ToLower(strings.TrimSpace(raw.IncidentType))
	urgency := strings.ToLower(strings.TrimSpace(raw.Urgency))

	if !model.ValidIncidentType(incident) {
		return nil, eris.Wrapf(ErrSchemaViolation, "incident_type %q", raw.IncidentType)
	}
	if !model.ValidUrgencyLevel(urgency) {
		return nil, eris.Wrapf(ErrSchemaViolation, "urgency %q", raw.Urgency)
	}

	return &model.Extraction{
		IncidentType: model.IncidentType(incident),
		Urgency:      model.UrgencyLevel(urgency),
		Location:     strings.TrimSpace(raw.Location),
		Entities:     raw.Entities,
		VictimCount:  raw.VictimCount,
		Description:  raw.Description,
	}, nil
}

// PackExtractor is the offline variant: a keyword-driven extractor backed by
// the lexicon pack. It keeps demos and tests independent of the inference
// API while exercising the same schema path.
type PackExtractor struct {
	pack *pack.Pack
}

// NewPackExtractor wraps a compiled pack.
func NewPackExtractor(p *pack.Pack) *PackExtractor {
	return &PackExtractor{pack: p}
}

func (e *PackExtractor) Extract(ctx context.Context, transcript, retrievedContext string, variant PromptVariant) (*model.Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	incident := model.IncidentUnknown
	if matches := e.pack.MatchKeywords(transcript); len(matches) > 0 {
		incident = matches[0]
	}

	location := "unknown"
	if locs := e.pack.MatchLocations(transcript); len(locs) > 0 {
		location = locs[0]
	}

	urgency := model.UrgencyMedium
	switch incident {
	case model.IncidentFireBuilding, model.IncidentFireForest, model.IncidentStructuralCollapse,
		model.IncidentDrowning, model.IncidentMedicalEmergency:
		urgency = model.UrgencyHigh
	case model.IncidentUnknown:
		urgency = model.UrgencyUnknown
	}

	return &model.Extraction{
		IncidentType: incident,
		Urgency:      urgency,
		Location:     location,
		Description:  "keyword extraction from transcript",
	}, nil
}
