package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/dispatch-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle so the queue broker can share it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	correlation_id  TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	status          TEXT NOT NULL DEFAULT 'queued',
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	language_hint   TEXT,
	audio_path      TEXT,
	state           TEXT,
	error_message   TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_records (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT NOT NULL,
	job_id         TEXT NOT NULL,
	stage          TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	error_kind     TEXT,
	detail         TEXT,
	timestamp      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_idem ON jobs(idempotency_key);
CREATE INDEX IF NOT EXISTS idx_audit_correlation ON audit_records(correlation_id);
CREATE INDEX IF NOT EXISTS idx_audit_job ON audit_records(job_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, correlation_id, idempotency_key, status, attempt_count, language_hint, audio_path, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.CorrelationID, job.IdempotencyKey, string(job.Status), job.AttemptCount,
		job.LanguageHint, job.AudioPath, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrDuplicateIdempotencyKey
		}
		return eris.Wrap(err, "sqlite: insert job")
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, correlation_id, idempotency_key, status, attempt_count, language_hint, audio_path, state, error_message, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

func (s *SQLiteStore) GetJobByIdempotencyKey(ctx context.Context, key string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, correlation_id, idempotency_key, status, attempt_count, language_hint, audio_path, state, error_message, created_at, updated_at
		 FROM jobs WHERE idempotency_key = ?`, key)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, correlation_id, idempotency_key, status, attempt_count, language_hint, audio_path, state, error_message, created_at, updated_at
	 FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) CompareAndSetStatus(ctx context.Context, jobID string, expected, next model.JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(next), time.Now().UTC(), jobID, string(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: cas status %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errorMessage, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set status %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

func (s *SQLiteStore) IncrementAttempt(ctx context.Context, jobID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET attempt_count = attempt_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: increment attempt %s", jobID)
	}
	if err := checkRowsAffected(res, jobID); err != nil {
		return 0, err
	}

	var count int
	err = s.db.QueryRowContext(ctx, `SELECT attempt_count FROM jobs WHERE id = ?`, jobID).Scan(&count)
	return count, eris.Wrap(err, "sqlite: read attempt count")
}

// RetireIdempotencyKey rewrites the key to a value derived from the job id,
// which the UNIQUE constraint cannot collide with because ids are UUIDs and
// live keys are bare hex digests.
func (s *SQLiteStore) RetireIdempotencyKey(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET idempotency_key = 'retired:' || id, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: retire idempotency key %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

func (s *SQLiteStore) SaveState(ctx context.Context, jobID string, state *model.OperationalState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal state")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE id = ?`,
		string(stateJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: save state %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, rec *model.AuditRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_records (correlation_id, job_id, stage, outcome, error_kind, detail, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.CorrelationID, rec.JobID, string(rec.Stage), string(rec.Outcome),
		string(rec.ErrorKind), rec.Detail, rec.Timestamp,
	)
	return eris.Wrap(err, "sqlite: append audit")
}

func (s *SQLiteStore) ListAudit(ctx context.Context, correlationID string) ([]model.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, correlation_id, job_id, stage, outcome, error_kind, detail, timestamp
		 FROM audit_records WHERE correlation_id = ? ORDER BY id ASC`,
		correlationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var recs []model.AuditRecord
	for rows.Next() {
		var r model.AuditRecord
		var errorKind, detail sql.NullString
		if err := rows.Scan(&r.ID, &r.CorrelationID, &r.JobID, &r.Stage, &r.Outcome, &errorKind, &detail, &r.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit")
		}
		r.ErrorKind = model.ErrorKind(errorKind.String)
		r.Detail = detail.String
		recs = append(recs, r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list audit iterate")
}

// helpers

func checkRowsAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s", jobID)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var languageHint, audioPath, stateJSON, errorMessage sql.NullString

	err := row.Scan(&j.ID, &j.CorrelationID, &j.IdempotencyKey, &j.Status, &j.AttemptCount,
		&languageHint, &audioPath, &stateJSON, &errorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	j.LanguageHint = languageHint.String
	j.AudioPath = audioPath.String
	j.ErrorMessage = errorMessage.String
	if stateJSON.Valid && stateJSON.String != "" {
		j.State = &model.OperationalState{}
		if err := json.Unmarshal([]byte(stateJSON.String), j.State); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal state")
		}
	}
	return &j, nil
}
