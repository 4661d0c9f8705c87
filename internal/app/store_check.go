package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmrzaf/etlflow/internal/domain"
	"github.com/mmrzaf/etlflow/internal/infra/targets"
	"github.com/mmrzaf/etlflow/internal/infra/targets/postgres"
	"github.com/mmrzaf/etlflow/internal/infra/targets/sqlite"
	"github.com/mmrzaf/etlflow/internal/infra/targets/sqlstore"
)

// StoreCheck is the outcome of probing the configured entity store.
type StoreCheck struct {
	Kind          string    `json:"kind"`
	DSN           string    `json:"dsn,omitempty"`
	OK            bool      `json:"ok"`
	LatencyMS     int64     `json:"latency_ms"`
	ServerVersion string    `json:"server_version,omitempty"`
	Entities      int       `json:"entities"`
	CheckedAt     time.Time `json:"checked_at"`
	Error         string    `json:"error,omitempty"`
}

// CheckStore opens the store, creates any missing catalog tables and reads the server
// version. The DSN in the result is redacted.
func CheckStore(ctx context.Context, kind, dsn, schema string, catalog *domain.Catalog) (*StoreCheck, error) {
	check := &StoreCheck{Kind: kind, CheckedAt: time.Now().UTC()}
	if kind == "postgres" {
		check.DSN = targets.RedactDSN(dsn)
	} else {
		check.DSN = dsn
	}
	if catalog == nil {
		catalog = &domain.Catalog{}
	}
	check.Entities = len(catalog.Entities)

	start := time.Now()
	var (
		st         *sqlstore.Store
		err        error
		versionSQL string
	)
	switch kind {
	case "memory":
		check.OK = true
		return check, nil
	case "sqlite":
		st, err = sqlite.Open(ctx, dsn, catalog)
		versionSQL = "SELECT sqlite_version()"
	case "postgres":
		st, err = postgres.Open(ctx, dsn, schema, catalog)
		versionSQL = "SHOW server_version"
	default:
		err = fmt.Errorf("unsupported store kind: %s", kind)
		check.Error = err.Error()
		return check, err
	}
	check.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		check.Error = err.Error()
		return check, err
	}
	defer st.Close()

	check.OK = true
	if ver, verErr := queryServerVersion(ctx, st.DB(), versionSQL); verErr == nil {
		check.ServerVersion = ver
	}
	return check, nil
}

func queryServerVersion(ctx context.Context, db *sql.DB, query string) (string, error) {
	var version string
	if err := db.QueryRowContext(ctx, query).Scan(&version); err != nil {
		return "", err
	}
	return version, nil
}
