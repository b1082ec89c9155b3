package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dispatch-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresCreateJob(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs("job-1", "corr-1", "key-1", "queued", 0, "en", "/tmp/a.audio",
			pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.CreateJob(context.Background(), &model.Job{
		ID:             "job-1",
		CorrelationID:  "corr-1",
		IdempotencyKey: "key-1",
		LanguageHint:   "en",
		AudioPath:      "/tmp/a.audio",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCreateJob_DuplicateKey(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := st.CreateJob(context.Background(), &model.Job{ID: "job-1", IdempotencyKey: "key-1"})
	assert.ErrorIs(t, err, ErrDuplicateIdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompareAndSetStatus_Conflict(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("running", pgxmock.AnyArg(), "job-1", "queued").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.CompareAndSetStatus(context.Background(), "job-1", model.JobStatusQueued, model.JobStatusRunning)
	assert.ErrorIs(t, err, ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCompareAndSetStatus_Wins(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET status").
		WithArgs("running", pgxmock.AnyArg(), "job-1", "queued").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.CompareAndSetStatus(context.Background(), "job-1", model.JobStatusQueued, model.JobStatusRunning)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRetireIdempotencyKey(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET idempotency_key").
		WithArgs(pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.RetireIdempotencyKey(context.Background(), "job-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRetireIdempotencyKey_Unknown(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs SET idempotency_key").
		WithArgs(pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.RetireIdempotencyKey(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetJob(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now().UTC()

	lang := "en"
	rows := pgxmock.NewRows([]string{
		"id", "correlation_id", "idempotency_key", "status", "attempt_count",
		"language_hint", "audio_path", "state", "error_message", "created_at", "updated_at",
	}).AddRow("job-1", "corr-1", "key-1", "completed", 1, &lang, nil, []byte(`{"confidence_score":0.91}`), nil, now, now)

	mock.ExpectQuery("SELECT .* FROM jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(rows)

	job, err := st.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, "en", job.LanguageHint)
	require.NotNil(t, job.State)
	require.NotNil(t, job.State.ConfidenceScore)
	assert.InDelta(t, 0.91, *job.State.ConfidenceScore, 1e-9)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIncrementAttempt(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE jobs SET attempt_count").
		WithArgs(pgxmock.AnyArg(), "job-1").
		WillReturnRows(pgxmock.NewRows([]string{"attempt_count"}).AddRow(2))

	n, err := st.IncrementAttempt(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendAudit(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO audit_records").
		WithArgs("corr-1", "job-1", "decide", "ok", "", "trace", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.AppendAudit(context.Background(), &model.AuditRecord{
		CorrelationID: "corr-1",
		JobID:         "job-1",
		Stage:         model.StageDecide,
		Outcome:       model.OutcomeOK,
		Detail:        "trace",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
