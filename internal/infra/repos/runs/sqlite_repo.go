package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mmrzaf/etlflow/internal/domain"
)

type SQLiteRepository struct {
	dbPath string
	db     *sql.DB
}

func NewSQLiteRepository(dbPath string) *SQLiteRepository {
	return &SQLiteRepository{dbPath: dbPath}
}

func (r *SQLiteRepository) Init() error {
	if dir := filepath.Dir(r.dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create runs db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", r.dbPath)
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)
	r.db = db

	createTableSQL := `
	CREATE TABLE IF NOT EXISTS flow_runs (
		id TEXT PRIMARY KEY,
		flow_name TEXT NOT NULL,
		status TEXT NOT NULL,
		source TEXT,
		total_rows INTEGER NOT NULL DEFAULT 0,
		imported_rows INTEGER NOT NULL DEFAULT 0,
		skipped_rows INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		progress REAL NOT NULL DEFAULT 0,
		errors TEXT,
		warnings TEXT,
		skip_reasons TEXT,
		metadata TEXT,
		started_at TEXT,
		completed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := r.db.Exec(createTableSQL); err != nil {
		return err
	}
	_, err = r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_flow_runs_status ON flow_runs(status, created_at)`)
	return err
}

func (r *SQLiteRepository) DB() *sql.DB { return r.db }

// Fixed-width fractions keep the text columns sortable.
const storedTime = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(storedTime)
}

func (r *SQLiteRepository) Save(ctx context.Context, run domain.FlowRun) error {
	enc, err := encode(run)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(storedTime)

	query := `
		INSERT INTO flow_runs (
			id, flow_name, status, source,
			total_rows, imported_rows, skipped_rows, error_count, progress,
			errors, warnings, skip_reasons, metadata, started_at, completed_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			source = excluded.source,
			total_rows = excluded.total_rows,
			imported_rows = excluded.imported_rows,
			skipped_rows = excluded.skipped_rows,
			error_count = excluded.error_count,
			progress = excluded.progress,
			errors = excluded.errors,
			warnings = excluded.warnings,
			skip_reasons = excluded.skip_reasons,
			metadata = excluded.metadata,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		run.ID, run.FlowName, string(run.Status), run.Source,
		run.TotalRows, run.ImportedRows, run.SkippedRows, run.ErrorCount, run.Progress,
		enc.errors, enc.warnings, enc.skipReasons, enc.metadata,
		formatTime(run.StartedAt), formatTime(run.CompletedAt),
		now, now,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(s rowScanner) (domain.FlowRun, error) {
	var run domain.FlowRun
	var status string
	var source, startedAt, completedAt sql.NullString
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
	run.StartedAt = parseTime(startedAt)
	run.CompletedAt = parseTime(completedAt)
	if err := cols.decodeInto(&run); err != nil {
		return domain.FlowRun{}, err
	}
	return run, nil
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (domain.FlowRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM flow_runs WHERE id = ?`, id)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.FlowRun{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

func (r *SQLiteRepository) List(ctx context.Context, limit int, status string) ([]domain.FlowRun, error) {
	query := `SELECT ` + selectColumns + ` FROM flow_runs`

	args := make([]any, 0, 2)
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}

	query += " ORDER BY created_at DESC, id"

	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.FlowRun, 0)
	for rows.Next() {
		run, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
