package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/dispatch-cli/internal/config"
	"github.com/sells-group/dispatch-cli/internal/model"
)

// Gate maps a scored, validated extraction to a dispatch decision using the
// configured thresholds.
type Gate struct {
	auto    float64
	flagged float64
	calc    *Calculator
}

// NewGate builds a gate from the decision config.
func NewGate(cfg config.DecisionConfig, calc *Calculator) *Gate {
	return &Gate{auto: cfg.AutoThreshold, flagged: cfg.FlaggedThreshold, calc: calc}
}

// Verdict is the gate's output: the decision plus the terminal job status it
// implies.
type Verdict struct {
	Decision model.Decision
	Status   model.JobStatus
}

// Decide applies the threshold policy:
//
//	score >= auto     -> auto_dispatch, COMPLETED
//	score >= flagged  -> flagged_dispatch, COMPLETED
//	otherwise         -> human_escalation, AWAITING_HUMAN
//
// The reasoning trace names every signal and its weighted contribution.
func (g *Gate) Decide(score float64, signals Signals, extraction *model.Extraction, now time.Time) Verdict {
	var action model.DecisionAction
	var status model.JobStatus

	switch {
	case score >= g.auto:
		action = model.ActionAutoDispatch
		status = model.JobStatusCompleted
	case score >= g.flagged:
		action = model.ActionFlaggedDispatch
		status = model.JobStatusCompleted
	default:
		action = model.ActionHumanEscalation
		status = model.JobStatusAwaitingHuman
	}

	return Verdict{
		Decision: model.Decision{
			Action:         action,
			Target:         dispatchTarget(extraction),
			ReasoningTrace: g.reasoning(score, signals, extraction, action),
			DecidedBy:      "gate",
			DecidedAt:      now.UTC(),
		},
		Status: status,
	}
}

func (g *Gate) reasoning(score float64, signals Signals, extraction *model.Extraction, action model.DecisionAction) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("score=%.3f (%s)", score, g.calc.Breakdown(signals)))

	if extraction != nil {
		parts = append(parts, fmt.Sprintf("incident=%s urgency=%s from entity match", extraction.IncidentType, extraction.Urgency))
	}
	if signals.RetrievalHitScore == 0 {
		parts = append(parts, "retrieval miss lowered score")
	} else {
		parts = append(parts, fmt.Sprintf("retrieval hit %.2f supported score", signals.RetrievalHitScore))
	}
	if signals.ASRConfidence < 0.5 {
		parts = append(parts, "low transcription confidence")
	}
	if signals.EntityMatchScore < 0.5 {
		parts = append(parts, "mandatory entities incomplete")
	}

	switch action {
	case model.ActionAutoDispatch:
		parts = append(parts, fmt.Sprintf("score >= %.2f auto threshold: dispatching", g.auto))
	case model.ActionFlaggedDispatch:
		parts = append(parts, fmt.Sprintf("score in [%.2f,%.2f): dispatching with post-hoc audit flag", g.flagged, g.auto))
	case model.ActionHumanEscalation:
		parts = append(parts, fmt.Sprintf("score < %.2f: escalating to human review, no automatic dispatch", g.flagged))
	}

	return strings.Join(parts, "; ")
}

// dispatchTarget picks the downstream resource from the incident type.
func dispatchTarget(e *model.Extraction) string {
	if e == nil {
		return ""
	}
	switch e.IncidentType {
	case model.IncidentFireBuilding, model.IncidentFireForest, model.IncidentFireVehicle:
		return "fire_brigade"
	case model.IncidentMedicalEmergency, model.IncidentDrowning:
		return "medical_services"
	case model.IncidentAssaultViolence, model.IncidentTheftRobbery:
		return "police"
	case model.IncidentAccidentVehicular, model.IncidentAccidentPedestrian, model.IncidentStructuralCollapse:
		return "rescue_services"
	case model.IncidentHazmat, model.IncidentNaturalDisaster:
		return "civil_protection"
	default:
		return "general_dispatch"
	}
}
