package model

import "time"

// Stage names the five executor stages plus lifecycle transitions that appear
// in the audit trail.
type Stage string

const (
	StageAdmit      Stage = "admit"
	StageClaim      Stage = "claim"
	StageTranscribe Stage = "transcribe"
	StageRetrieve   Stage = "retrieve"
	StageInfer      Stage = "infer"
	StageValidate   Stage = "validate"
	StageDecide     Stage = "decide"
	StageDispatch   Stage = "dispatch"
	StageResolve    Stage = "resolve"
	StageTerminal   Stage = "terminal"
)

// AuditOutcome classifies a stage transition.
type AuditOutcome string

const (
	OutcomeOK      AuditOutcome = "ok"
	OutcomeFailed  AuditOutcome = "failed"
	OutcomeSkipped AuditOutcome = "skipped"
)

// ErrorKind tags audit records for failed transitions.
type ErrorKind string

const (
	ErrKindRetriesExhausted       ErrorKind = "RetriesExhausted"
	ErrKindSchemaValidationFailed ErrorKind = "SchemaValidationFailed"
	ErrKindProviderError          ErrorKind = "ProviderError"
	ErrKindInvariantViolation     ErrorKind = "InvariantViolation"
	ErrKindCancelled              ErrorKind = "Cancelled"
)

// AuditRecord is one immutable append per stage transition. Records are never
// mutated or deleted; retention is an operational concern outside the core.
type AuditRecord struct {
	ID            int64        `json:"id"`
	CorrelationID string       `json:"correlation_id"`
	JobID         string       `json:"job_id"`
	Stage         Stage        `json:"stage"`
	Outcome       AuditOutcome `json:"outcome"`
	ErrorKind     ErrorKind    `json:"error_kind,omitempty"`
	Detail        string       `json:"detail,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}
