package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/infra/targets/sqlstore"
)

// NewDialect returns the Postgres dialect for a schema, "public" when empty.
func NewDialect(schema string) sqlstore.Dialect {
	if schema == "" {
		schema = "public"
	}
	return sqlstore.Dialect{
		Name:        "postgres",
		Schema:      schema,
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		Returning:   true,
		IDColumn:    "id BIGSERIAL PRIMARY KEY",
		ColumnType:  mapColumnType,
	}
}

func Open(ctx context.Context, dsn, schema string, catalog *domain.Catalog) (*sqlstore.Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := sqlstore.New(db, catalog, NewDialect(schema))
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func mapColumnType(t domain.FieldType, maxLength int) string {
	switch t {
	case domain.FieldTypeInt:
		return "BIGINT"
	case domain.FieldTypeFloat:
		return "DOUBLE PRECISION"
	case domain.FieldTypeBool:
		return "BOOLEAN"
	case domain.FieldTypeDate:
		return "DATE"
	case domain.FieldTypeTimestamp:
		return "TIMESTAMP"
	case domain.FieldTypeJSON:
		return "JSONB"
	case domain.FieldTypeText:
		return "TEXT"
	default:
		if maxLength <= 0 {
			maxLength = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", maxLength)
	}
}
