package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/infra/targets/sqlstore"
)

// Dialect stores booleans as 1/0 and times as RFC3339 text.
var Dialect = sqlstore.Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	IDColumn:    "id INTEGER PRIMARY KEY AUTOINCREMENT",
	ColumnType:  mapColumnType,
	BoolAsInt:   true,
}

// Open connects to the database file at path and creates any missing tables.
func Open(ctx context.Context, path string, catalog *domain.Catalog) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect sqlite %s: %w", path, err)
	}
	// sqlite serialises writers; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	s := sqlstore.New(db, catalog, Dialect)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func mapColumnType(t domain.FieldType, _ int) string {
	switch t {
	case domain.FieldTypeInt, domain.FieldTypeBool:
		return "INTEGER"
	case domain.FieldTypeFloat:
		return "REAL"
	default:
		return "TEXT"
	}
}
