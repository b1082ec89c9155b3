// Package store persists jobs and the append-only audit trail.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-cli/internal/model"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = eris.New("store: job not found")

	// ErrDuplicateIdempotencyKey is returned by CreateJob when a job with the
	// same idempotency key already exists.
	ErrDuplicateIdempotencyKey = eris.New("store: duplicate idempotency key")

	// ErrStatusConflict is returned by CompareAndSetStatus when the job's
	// current status does not match the expected prior status. The caller
	// lost a claim race and must treat the delivery as a duplicate.
	ErrStatusConflict = eris.New("store: status conflict")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines persistence for jobs and audit records. The jobs table's
// status column is the single source of truth for job ownership; the audit
// table is append-only.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	GetJobByIdempotencyKey(ctx context.Context, key string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// CompareAndSetStatus atomically transitions jobID from expected to next.
	// Returns ErrStatusConflict if the current status is not expected.
	CompareAndSetStatus(ctx context.Context, jobID string, expected, next model.JobStatus) error

	// SetStatus unconditionally sets the status (cancellation, failure marks).
	SetStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error

	// IncrementAttempt bumps attempt_count and returns the new value.
	IncrementAttempt(ctx context.Context, jobID string) (int, error)

	// RetireIdempotencyKey frees a job's idempotency key so the same payload
	// can be submitted again as a fresh job.
	RetireIdempotencyKey(ctx context.Context, jobID string) error

	// SaveState persists the operational state accumulated so far.
	SaveState(ctx context.Context, jobID string, state *model.OperationalState) error

	// Audit trail
	AppendAudit(ctx context.Context, rec *model.AuditRecord) error
	ListAudit(ctx context.Context, correlationID string) ([]model.AuditRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
