package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dispatch-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock's PgxPoolIface
// satisfies it, which keeps the Postgres backend unit-testable without a
// database.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	correlation_id  TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	status          TEXT NOT NULL DEFAULT 'queued',
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	language_hint   TEXT,
	audio_path      TEXT,
	state           JSONB,
	error_message   TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_records (
	id             BIGSERIAL PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	job_id         TEXT NOT NULL,
	stage          TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	error_kind     TEXT,
	detail         TEXT,
	timestamp      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_records(correlation_id);
CREATE INDEX IF NOT EXISTS idx_audit_job ON audit_records(job_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, correlation_id, idempotency_key, status, attempt_count, language_hint, audio_path, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.CorrelationID, job.IdempotencyKey, string(job.Status), job.AttemptCount,
		job.LanguageHint, job.AudioPath, now, now,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return eris.Wrap(err, "postgres: insert job")
	}
	return nil
}

const selectJobColumns = `SELECT id, correlation_id, idempotency_key, status, attempt_count, language_hint, audio_path, state, error_message, created_at, updated_at FROM jobs`

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, selectJobColumns+` WHERE id = $1`, jobID)
	return scanPgJob(row)
}

func (s *PostgresStore) GetJobByIdempotencyKey(ctx context.Context, key string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, selectJobColumns+` WHERE idempotency_key = $1`, key)
	return scanPgJob(row)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := selectJobColumns + ` WHERE 1=1`
	var args []any
	n := 0

	if filter.Status != "" {
		n++
		query += ` AND status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	n++
	query += ` LIMIT $` + strconv.Itoa(n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += ` OFFSET $` + strconv.Itoa(n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, jobID string, expected, next model.JobStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(next), time.Now().UTC(), jobID, string(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: cas status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, updated_at = $3 WHERE id = $4`,
		string(status), errorMessage, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", jobID)
	}
	return nil
}

func (s *PostgresStore) IncrementAttempt(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`UPDATE jobs SET attempt_count = attempt_count + 1, updated_at = $1 WHERE id = $2 RETURNING attempt_count`,
		time.Now().UTC(), jobID,
	).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, eris.Wrapf(ErrNotFound, "%s", jobID)
	}
	return count, eris.Wrapf(err, "postgres: increment attempt %s", jobID)
}

func (s *PostgresStore) RetireIdempotencyKey(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET idempotency_key = 'retired:' || id, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: retire idempotency key %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", jobID)
	}
	return nil
}

func (s *PostgresStore) SaveState(ctx context.Context, jobID string, state *model.OperationalState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal state")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = $1, updated_at = $2 WHERE id = $3`,
		string(stateJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: save state %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", jobID)
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_records (correlation_id, job_id, stage, outcome, error_kind, detail, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.CorrelationID, rec.JobID, string(rec.Stage), string(rec.Outcome),
		string(rec.ErrorKind), rec.Detail, rec.Timestamp,
	)
	return eris.Wrap(err, "postgres: append audit")
}

func (s *PostgresStore) ListAudit(ctx context.Context, correlationID string) ([]model.AuditRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, correlation_id, job_id, stage, outcome, error_kind, detail, timestamp
		 FROM audit_records WHERE correlation_id = $1 ORDER BY id ASC`,
		correlationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var recs []model.AuditRecord
	for rows.Next() {
		var r model.AuditRecord
		var errorKind, detail *string
		if err := rows.Scan(&r.ID, &r.CorrelationID, &r.JobID, &r.Stage, &r.Outcome, &errorKind, &detail, &r.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit")
		}
		if errorKind != nil {
			r.ErrorKind = model.ErrorKind(*errorKind)
		}
		if detail != nil {
			r.Detail = *detail
		}
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list audit iterate")
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var languageHint, audioPath, errorMessage *string
	var stateJSON []byte

	err := row.Scan(&j.ID, &j.CorrelationID, &j.IdempotencyKey, &j.Status, &j.AttemptCount,
		&languageHint, &audioPath, &stateJSON, &errorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	if languageHint != nil {
		j.LanguageHint = *languageHint
	}
	if audioPath != nil {
		j.AudioPath = *audioPath
	}
	if errorMessage != nil {
		j.ErrorMessage = *errorMessage
	}
	if len(stateJSON) > 0 {
		j.State = &model.OperationalState{}
		if err := json.Unmarshal(stateJSON, j.State); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal state")
		}
	}
	return &j, nil
}

