package runs

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmrzaf/etlflow/internal/domain"
)

var runColumns = []string{
	"id", "flow_name", "status", "source",
	"total_rows", "imported_rows", "skipped_rows", "error_count", "progress",
	"errors", "warnings", "skip_reasons", "metadata", "started_at", "completed_at",
}

func mockPostgres(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &PostgresRepository{db: db}, mock
}

func TestPostgresApplyMigrations(t *testing.T) {
	repo, mock := mockPostgres(t)

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS schema_migrations`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE INDEX IF NOT EXISTS idx_flow_runs_status_time`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO schema_migrations(version) VALUES ($1)`)).
		WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.applyMigrations())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveUpserts(t *testing.T) {
	repo, mock := mockPostgres(t)
	run := finishedRun("run-9")

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO flow_runs`)).
		WithArgs(
			"run-9", "import-users", "partially_completed", "users.csv",
			3, 2, 1, 1, 100.0,
			sqlmock.AnyArg(), sqlmock.AnyArg(), `{"validation":1}`, `{"config_hash":"abc123"}`,
			sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Save(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGet(t *testing.T) {
	repo, mock := mockPostgres(t)
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM flow_runs WHERE id = \$1`).
		WithArgs("run-2").
		WillReturnRows(sqlmock.NewRows(runColumns).AddRow(
			"run-2", "import-books", "failed", "books.csv",
			int64(0), int64(0), int64(0), int64(1), float64(0),
			`[{"message":"run cancelled","timestamp":"2026-03-01T09:00:01Z"}]`, `[]`, nil, `{"cancelled":true}`,
			started, started.Add(time.Second),
		))
	mock.ExpectQuery(`FROM flow_runs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(runColumns))

	got, err := repo.Get(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, 1, got.ErrorCount)
	assert.Equal(t, "run cancelled", got.Errors[0].Message)
	assert.Equal(t, true, got.Metadata["cancelled"])
	assert.Nil(t, got.SkipReasons)
	assert.Equal(t, time.Second, got.Duration())

	_, err = repo.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListDefaultsLimit(t *testing.T) {
	repo, mock := mockPostgres(t)

	mock.ExpectQuery(`ORDER BY created_at DESC, id\s+LIMIT \$1`).
		WithArgs(defaultListLimit).
		WillReturnRows(sqlmock.NewRows(runColumns))
	mock.ExpectQuery(`WHERE status = \$1`).
		WithArgs("completed", 5).
		WillReturnRows(sqlmock.NewRows(runColumns))

	all, err := repo.List(context.Background(), 0, "")
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = repo.List(context.Background(), 5, "completed")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresInitRequiresDSN(t *testing.T) {
	err := NewPostgresRepository("  ").Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn is required")
}
