package model

import "time"

// JobStatus tracks a job through the admission/execution lifecycle.
type JobStatus string

const (
	JobStatusQueued        JobStatus = "queued"
	JobStatusRunning       JobStatus = "running"
	JobStatusAwaitingHuman JobStatus = "awaiting_human"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusFailed        JobStatus = "failed"
	JobStatusDeadLettered  JobStatus = "dead_lettered"
)

// Terminal reports whether automated processing is finished for this status.
// AwaitingHuman is terminal for the executor but resumable by a reviewer.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusAwaitingHuman, JobStatusDeadLettered:
		return true
	default:
		return false
	}
}

// Job is the durable record of one admitted analysis request.
type Job struct {
	ID             string            `json:"job_id"`
	CorrelationID  string            `json:"correlation_id"`
	IdempotencyKey string            `json:"idempotency_key"`
	Status         JobStatus         `json:"status"`
	AttemptCount   int               `json:"attempt_count"`
	LanguageHint   string            `json:"language_hint,omitempty"`
	AudioPath      string            `json:"audio_path,omitempty"`
	State          *OperationalState `json:"state,omitempty"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// JobHandle is the client-visible reference returned on admission.
type JobHandle struct {
	JobID         string    `json:"job_id"`
	CorrelationID string    `json:"correlation_id"`
	Status        JobStatus `json:"status"`
}

// Handle returns the client-visible view of the job.
func (j *Job) Handle() JobHandle {
	return JobHandle{JobID: j.ID, CorrelationID: j.CorrelationID, Status: j.Status}
}
