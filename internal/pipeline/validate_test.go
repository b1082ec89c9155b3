package pipeline

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/dispatch-cli/internal/model"
)

func intPtr(n int) *int { return &n }

func TestValidateExtraction_Passes(t *testing.T) {
	v := validateExtraction(&model.Extraction{
		IncidentType: model.IncidentMedicalEmergency,
		Urgency:      model.UrgencyCritical,
		Location:     "harbor pier 3",
		VictimCount:  intPtr(2),
	}, nil)

	assert.True(t, v.Passed)
	assert.Empty(t, v.Problems)
}

func TestValidateExtraction_NilExtraction(t *testing.T) {
	v := validateExtraction(nil, nil)
	assert.False(t, v.Passed)
	assert.Contains(t, v.Problems, "no extraction produced")
}

func TestValidateExtraction_InferErrorRecorded(t *testing.T) {
	v := validateExtraction(nil, eris.New("model produced free text"))
	assert.False(t, v.Passed)
	assert.Len(t, v.Problems, 2)
	assert.Contains(t, v.Problems[0], "model produced free text")
}

func TestValidateExtraction_OutOfTaxonomy(t *testing.T) {
	v := validateExtraction(&model.Extraction{
		IncidentType: "meteor_strike",
		Urgency:      "apocalyptic",
		Location:     "downtown",
	}, nil)

	assert.False(t, v.Passed)
	assert.Contains(t, v.Problems[0], "incident_type not in taxonomy")
	assert.Contains(t, v.Problems[1], "urgency not in taxonomy")
}

func TestValidateExtraction_MissingLocation(t *testing.T) {
	v := validateExtraction(&model.Extraction{
		IncidentType: model.IncidentTheftRobbery,
		Urgency:      model.UrgencyLow,
		Location:     "   ",
	}, nil)

	assert.False(t, v.Passed)
	assert.Contains(t, v.Problems, "location missing")
}

func TestValidateExtraction_VictimCountBounds(t *testing.T) {
	base := func(n int) *model.Extraction {
		return &model.Extraction{
			IncidentType: model.IncidentNaturalDisaster,
			Urgency:      model.UrgencyHigh,
			Location:     "valley road",
			VictimCount:  intPtr(n),
		}
	}

	assert.True(t, validateExtraction(base(0), nil).Passed)
	assert.True(t, validateExtraction(base(500), nil).Passed)

	v := validateExtraction(base(-1), nil)
	assert.False(t, v.Passed)
	assert.Contains(t, v.Problems, "victim_count negative")

	v = validateExtraction(base(501), nil)
	assert.False(t, v.Passed)
	assert.Contains(t, v.Problems, "victim_count implausibly large")
}

func TestValidateExtraction_UnknownEnumsAreValid(t *testing.T) {
	// "unknown" is a member of both taxonomies; it lowers entity coverage
	// but is not a schema violation.
	v := validateExtraction(&model.Extraction{
		IncidentType: model.IncidentUnknown,
		Urgency:      model.UrgencyUnknown,
		Location:     "city center",
	}, nil)
	assert.True(t, v.Passed)
}
