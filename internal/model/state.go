package model

import (
	"strings"
	"time"
)

// IncidentType is the closed incident taxonomy. Infer output outside this set
// is a schema violation, not a new category.
type IncidentType string

const (
	IncidentUnknown            IncidentType = "unknown"
	IncidentAccidentVehicular  IncidentType = "accident_vehicular"
	IncidentAccidentPedestrian IncidentType = "accident_pedestrian"
	IncidentFireBuilding       IncidentType = "fire_building"
	IncidentFireForest         IncidentType = "fire_forest"
	IncidentFireVehicle        IncidentType = "fire_vehicle"
	IncidentMedicalEmergency   IncidentType = "medical_emergency"
	IncidentDrowning           IncidentType = "drowning"
	IncidentAssaultViolence    IncidentType = "assault_violence"
	IncidentTheftRobbery       IncidentType = "theft_robbery"
	IncidentNaturalDisaster    IncidentType = "natural_disaster"
	IncidentHazmat             IncidentType = "hazmat"
	IncidentLostPerson         IncidentType = "lost_person"
	IncidentStructuralCollapse IncidentType = "structural_collapse"
	IncidentOther              IncidentType = "other"
)

// UrgencyLevel is the closed urgency taxonomy.
type UrgencyLevel string

const (
	UrgencyUnknown  UrgencyLevel = "unknown"
	UrgencyLow      UrgencyLevel = "low"
	UrgencyMedium   UrgencyLevel = "medium"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyCritical UrgencyLevel = "critical"
)

// ValidIncidentType reports whether s is a member of the closed incident enum.
func ValidIncidentType(s string) bool {
	switch IncidentType(strings.ToLower(s)) {
	case IncidentUnknown, IncidentAccidentVehicular, IncidentAccidentPedestrian,
		IncidentFireBuilding, IncidentFireForest, IncidentFireVehicle,
		IncidentMedicalEmergency, IncidentDrowning, IncidentAssaultViolence,
		IncidentTheftRobbery, IncidentNaturalDisaster, IncidentHazmat,
		IncidentLostPerson, IncidentStructuralCollapse, IncidentOther:
		return true
	}
	return false
}

// ValidUrgencyLevel reports whether s is a member of the closed urgency enum.
func ValidUrgencyLevel(s string) bool {
	switch UrgencyLevel(strings.ToLower(s)) {
	case UrgencyUnknown, UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return true
	}
	return false
}

// Transcript is the ASR stage output.
type Transcript struct {
	Text       string  `json:"text"`
	Normalized string  `json:"normalized,omitempty"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language,omitempty"`
}

// RetrievalContext is the knowledge-retrieval stage output.
type RetrievalContext struct {
	Context  string  `json:"context"`
	HitScore float64 `json:"hit_score"` // 0.0 miss .. 1.0 strong hit
}

// Extraction is the structured result of the Infer stage. All fields conform
// to the fixed schema; free-form categories are rejected during Validate.
type Extraction struct {
	IncidentType IncidentType      `json:"incident_type"`
	Urgency      UrgencyLevel      `json:"urgency"`
	Location     string            `json:"location"`
	Entities     map[string]string `json:"entities,omitempty"`
	VictimCount  *int              `json:"victim_count,omitempty"`
	Description  string            `json:"description,omitempty"`
}

// ValidationVerdict records the Validate stage outcome.
type ValidationVerdict struct {
	Passed     bool     `json:"passed"`
	Reprompted bool     `json:"reprompted"`
	Problems   []string `json:"problems,omitempty"`
}

// DecisionAction is the gate's verdict on a scored extraction.
type DecisionAction string

const (
	ActionAutoDispatch    DecisionAction = "auto_dispatch"
	ActionFlaggedDispatch DecisionAction = "flagged_dispatch"
	ActionHumanEscalation DecisionAction = "human_escalation"
)

// Decision is the final, auditable outcome for a job. ReasoningTrace is
// mandatory: every automated decision carries a human-readable justification
// naming the signals that drove it.
type Decision struct {
	Action         DecisionAction `json:"action"`
	Target         string         `json:"target,omitempty"`
	ReasoningTrace string         `json:"reasoning_trace"`
	DecidedBy      string         `json:"decided_by,omitempty"` // "gate" or reviewer id
	DecidedAt      time.Time      `json:"decided_at"`
}

// OperationalState is the working record built up as a job moves through the
// five stages. Owned by exactly one executor attempt at a time, then persisted
// immutably alongside the job.
type OperationalState struct {
	Transcript      *Transcript        `json:"transcript,omitempty"`
	Retrieval       *RetrievalContext  `json:"retrieval,omitempty"`
	Extraction      *Extraction        `json:"extraction,omitempty"`
	Validation      *ValidationVerdict `json:"validation,omitempty"`
	ConfidenceScore *float64           `json:"confidence_score,omitempty"`
	Decision        *Decision          `json:"decision,omitempty"`
}

// MandatoryFields are the extraction fields counted toward entity coverage.
var MandatoryFields = []string{"incident_type", "urgency", "location"}

// EntityCoverage returns the fraction of mandatory fields that are populated
// with a known, non-empty value. Unknown enum values earn partial credit.
func (e *Extraction) EntityCoverage() float64 {
	if e == nil {
		return 0
	}
	found := 0.0
	if e.IncidentType != "" && e.IncidentType != IncidentUnknown {
		found += 1.0
	} else if e.IncidentType == IncidentUnknown {
		found += 0.3
	}
	if e.Urgency != "" && e.Urgency != UrgencyUnknown {
		found += 1.0
	} else if e.Urgency == UrgencyUnknown {
		found += 0.3
	}
	if s := strings.TrimSpace(e.Location); s != "" && !strings.EqualFold(s, "unknown") {
		found += 1.0
	}
	return found / float64(len(MandatoryFields))
}
