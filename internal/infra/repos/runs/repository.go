package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mmrzaf/etlflow/internal/domain"
)

var ErrNotFound = errors.New("run not found")

// Repository stores FlowRun snapshots for the etlflow control plane DB. Save is an upsert
// keyed by run id so the executor can record every state transition.
type Repository interface {
	Init() error
	Save(ctx context.Context, run domain.FlowRun) error
	Get(ctx context.Context, id string) (domain.FlowRun, error)
	List(ctx context.Context, limit int, status string) ([]domain.FlowRun, error)
	Close() error
}

const defaultListLimit = 50

const selectColumns = `id, flow_name, status, source,
	total_rows, imported_rows, skipped_rows, error_count, progress,
	errors, warnings, skip_reasons, metadata, started_at, completed_at`

type encodedRun struct {
	errors      string
	warnings    string
	skipReasons string
	metadata    string
}

func encode(run domain.FlowRun) (encodedRun, error) {
	var out encodedRun
	parts := []struct {
		dst *string
		v   any
	}{
		{&out.errors, nonNilMessages(run.Errors)},
		{&out.warnings, nonNilMessages(run.Warnings)},
		{&out.skipReasons, run.SkipReasons},
		{&out.metadata, run.Metadata},
	}
	for _, p := range parts {
		b, err := json.Marshal(p.v)
		if err != nil {
			return encodedRun{}, fmt.Errorf("encode run %s: %w", run.ID, err)
		}
		*p.dst = string(b)
	}
	return out, nil
}

func nonNilMessages(m []domain.RunMessage) []domain.RunMessage {
	if m == nil {
		return []domain.RunMessage{}
	}
	return m
}

type jsonColumns struct {
	errors, warnings, skipReasons, metadata sql.NullString
}

func (c jsonColumns) decodeInto(run *domain.FlowRun) error {
	targets := []struct {
		src sql.NullString
		dst any
	}{
		{c.errors, &run.Errors},
		{c.warnings, &run.Warnings},
		{c.skipReasons, &run.SkipReasons},
		{c.metadata, &run.Metadata},
	}
	for _, t := range targets {
		if !t.src.Valid || t.src.String == "" || t.src.String == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(t.src.String), t.dst); err != nil {
			return fmt.Errorf("decode run %s: %w", run.ID, err)
		}
	}
	run.Errors = nonNilMessages(run.Errors)
	run.Warnings = nonNilMessages(run.Warnings)
	return nil
}

var (
	_ Repository = (*SQLiteRepository)(nil)
	_ Repository = (*PostgresRepository)(nil)
)
