package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dispatch-cli/internal/config"
	"github.com/sells-group/dispatch-cli/internal/model"
)

func defaultCalc() *Calculator {
	return NewCalculator(config.ScoringConfig{
		ASRWeight:       0.40,
		EntityWeight:    0.35,
		RetrievalWeight: 0.25,
	})
}

func defaultGate() *Gate {
	return NewGate(config.DecisionConfig{AutoThreshold: 0.9, FlaggedThreshold: 0.7}, defaultCalc())
}

func TestScore_WeightedSum(t *testing.T) {
	calc := defaultCalc()

	score := calc.Score(Signals{ASRConfidence: 1, EntityMatchScore: 1, RetrievalHitScore: 1})
	assert.InDelta(t, 1.0, score, 1e-9)

	score = calc.Score(Signals{ASRConfidence: 0.5, EntityMatchScore: 0.5, RetrievalHitScore: 0.5})
	assert.InDelta(t, 0.5, score, 1e-9)

	// 0.4*0.9 + 0.35*1.0 + 0.25*0.0 = 0.71
	score = calc.Score(Signals{ASRConfidence: 0.9, EntityMatchScore: 1.0, RetrievalHitScore: 0})
	assert.InDelta(t, 0.71, score, 1e-9)
}

func TestScore_ClampsInputs(t *testing.T) {
	calc := defaultCalc()

	score := calc.Score(Signals{ASRConfidence: 1.5, EntityMatchScore: -0.2, RetrievalHitScore: 2})
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
	// Clamped to asr=1, entity=0, retrieval=1.
	assert.InDelta(t, 0.65, score, 1e-9)
}

func highExtraction() *model.Extraction {
	return &model.Extraction{
		IncidentType: model.IncidentFireBuilding,
		Urgency:      model.UrgencyHigh,
		Location:     "main street",
	}
}

func TestDecide_AutoDispatchAboveThreshold(t *testing.T) {
	gate := defaultGate()
	signals := Signals{ASRConfidence: 0.95, EntityMatchScore: 1, RetrievalHitScore: 0.9}
	score := defaultCalc().Score(signals)
	require.GreaterOrEqual(t, score, 0.9)

	v := gate.Decide(score, signals, highExtraction(), time.Now())
	assert.Equal(t, model.ActionAutoDispatch, v.Decision.Action)
	assert.Equal(t, model.JobStatusCompleted, v.Status)
	assert.Equal(t, "fire_brigade", v.Decision.Target)
}

func TestDecide_FlaggedBand(t *testing.T) {
	gate := defaultGate()
	signals := Signals{ASRConfidence: 0.8, EntityMatchScore: 0.8, RetrievalHitScore: 0.6}
	score := defaultCalc().Score(signals) // 0.75

	v := gate.Decide(score, signals, highExtraction(), time.Now())
	assert.Equal(t, model.ActionFlaggedDispatch, v.Decision.Action)
	assert.Equal(t, model.JobStatusCompleted, v.Status)
}

func TestDecide_EscalatesBelowFlagged(t *testing.T) {
	gate := defaultGate()
	signals := Signals{ASRConfidence: 0.5, EntityMatchScore: 0.3, RetrievalHitScore: 0}
	score := defaultCalc().Score(signals)

	v := gate.Decide(score, signals, highExtraction(), time.Now())
	assert.Equal(t, model.ActionHumanEscalation, v.Decision.Action)
	assert.Equal(t, model.JobStatusAwaitingHuman, v.Status)
}

func TestDecide_ExactThresholdsInclusive(t *testing.T) {
	gate := defaultGate()

	v := gate.Decide(0.9, Signals{}, highExtraction(), time.Now())
	assert.Equal(t, model.ActionAutoDispatch, v.Decision.Action)

	v = gate.Decide(0.7, Signals{}, highExtraction(), time.Now())
	assert.Equal(t, model.ActionFlaggedDispatch, v.Decision.Action)

	v = gate.Decide(0.6999, Signals{}, highExtraction(), time.Now())
	assert.Equal(t, model.ActionHumanEscalation, v.Decision.Action)
}

func TestDecide_ReasoningTraceNamesSignals(t *testing.T) {
	gate := defaultGate()
	signals := Signals{ASRConfidence: 0.4, EntityMatchScore: 0.3, RetrievalHitScore: 0}
	score := defaultCalc().Score(signals)

	v := gate.Decide(score, signals, highExtraction(), time.Now())
	trace := v.Decision.ReasoningTrace
	require.NotEmpty(t, trace)
	assert.Contains(t, trace, "asr=")
	assert.Contains(t, trace, "entity=")
	assert.Contains(t, trace, "retrieval miss lowered score")
	assert.Contains(t, trace, "low transcription confidence")
	assert.Contains(t, trace, "escalating to human review")
	assert.Equal(t, "gate", v.Decision.DecidedBy)
}

func TestDispatchTarget_ByIncidentType(t *testing.T) {
	cases := map[model.IncidentType]string{
		model.IncidentFireForest:        "fire_brigade",
		model.IncidentDrowning:          "medical_services",
		model.IncidentTheftRobbery:      "police",
		model.IncidentAccidentVehicular: "rescue_services",
		model.IncidentHazmat:            "civil_protection",
		model.IncidentOther:             "general_dispatch",
		model.IncidentUnknown:           "general_dispatch",
	}
	for incident, want := range cases {
		got := dispatchTarget(&model.Extraction{IncidentType: incident})
		assert.Equal(t, want, got, "incident %s", incident)
	}
	assert.Equal(t, "", dispatchTarget(nil))
}
