package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/mmrzaf/etlflow/internal/domain"
)

type PostgresRepository struct {
	dsn string
	db  *sql.DB
}

func NewPostgresRepository(dsn string) *PostgresRepository {
	return &PostgresRepository{dsn: strings.TrimSpace(dsn)}
}

func (r *PostgresRepository) Init() error {
	if r.dsn == "" {
		return fmt.Errorf("etlflow db dsn is required")
	}
	db, err := sql.Open("postgres", r.dsn)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return err
	}
	r.db = db
	return r.applyMigrations()
}

func (r *PostgresRepository) DB() *sql.DB { return r.db }

func (r *PostgresRepository) applyMigrations() error {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}
	var cur int
	if err := r.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&cur); err != nil {
		return err
	}

	type mig struct {
		v  int
		up func(*sql.DB) error
	}
	migs := []mig{
		{1, migrateV1FlowRunsPG},
		{2, migrateV2FlowRunsStatusIndexPG},
	}

	for _, m := range migs {
		if cur >= m.v {
			continue
		}
		if err := m.up(r.db); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.v, err)
		}
		if _, err := r.db.Exec(`INSERT INTO schema_migrations(version) VALUES ($1)`, m.v); err != nil {
			return err
		}
		cur = m.v
	}
	return nil
}

func migrateV1FlowRunsPG(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS flow_runs (
		id TEXT PRIMARY KEY,
		flow_name TEXT NOT NULL,
		status TEXT NOT NULL,
		source TEXT,
		total_rows BIGINT NOT NULL DEFAULT 0,
		imported_rows BIGINT NOT NULL DEFAULT 0,
		skipped_rows BIGINT NOT NULL DEFAULT 0,
		error_count BIGINT NOT NULL DEFAULT 0,
		progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		errors JSONB,
		warnings JSONB,
		skip_reasons JSONB,
		metadata JSONB,
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	return err
}

func migrateV2FlowRunsStatusIndexPG(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_flow_runs_status_time ON flow_runs(status, created_at DESC)`)
	return err
}

func (r *PostgresRepository) Save(ctx context.Context, run domain.FlowRun) error {
	enc, err := encode(run)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO flow_runs (
		id, flow_name, status, source,
		total_rows, imported_rows, skipped_rows, error_count, progress,
		errors, warnings, skip_reasons, metadata, started_at, completed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		source = EXCLUDED.source,
		total_rows = EXCLUDED.total_rows,
		imported_rows = EXCLUDED.imported_rows,
		skipped_rows = EXCLUDED.skipped_rows,
		error_count = EXCLUDED.error_count,
		progress = EXCLUDED.progress,
		errors = EXCLUDED.errors,
		warnings = EXCLUDED.warnings,
		skip_reasons = EXCLUDED.skip_reasons,
		metadata = EXCLUDED.metadata,
		started_at = EXCLUDED.started_at,
		completed_at = EXCLUDED.completed_at,
		updated_at = NOW()`,
		run.ID, run.FlowName, string(run.Status), run.Source,
		run.TotalRows, run.ImportedRows, run.SkippedRows, run.ErrorCount, run.Progress,
		enc.errors, enc.warnings, enc.skipReasons, enc.metadata,
		run.StartedAt, run.CompletedAt,
	)
	return err
}

func scanPostgresRun(s rowScanner) (domain.FlowRun, error) {
	var run domain.FlowRun
	var status string
	var source sql.NullString
	var startedAt, completedAt sql.NullTime
	var cols jsonColumns
	err := s.Scan(
		&run.ID, &run.FlowName, &status, &source,
		&run.TotalRows, &run.ImportedRows, &run.SkippedRows, &run.ErrorCount, &run.Progress,
		&cols.errors, &cols.warnings, &cols.skipReasons, &cols.metadata,
		&startedAt, &completedAt,
	)
	if err != nil {
		return domain.FlowRun{}, err
	}
	run.Status = domain.RunStatus(status)
	run.Source = source.String
	if startedAt.Valid {
		t := startedAt.Time
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if err := cols.decodeInto(&run); err != nil {
		return domain.FlowRun{}, err
	}
	return run, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (domain.FlowRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM flow_runs WHERE id = $1`, id)
	run, err := scanPostgresRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FlowRun{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

func (r *PostgresRepository) List(ctx context.Context, limit int, status string) ([]domain.FlowRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	if status != "" {
		rows, err = r.db.QueryContext(ctx, `SELECT `+selectColumns+`
		FROM flow_runs
		WHERE status = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, status, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `SELECT `+selectColumns+`
		FROM flow_runs
		ORDER BY created_at DESC, id
		LIMIT $1`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.FlowRun, 0)
	for rows.Next() {
		run, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
