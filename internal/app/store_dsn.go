package app

import (
	"net/url"
	"strings"
)

// resolveStoreDSN points a Postgres DSN at the configured database when one is set.
func resolveStoreDSN(kind, dsn, database string) string {
	if kind != "postgres" || database == "" {
		return dsn
	}
	return withPostgresDatabase(dsn, database)
}

func withPostgresDatabase(dsn, database string) string {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return dsn
	}
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		u.Path = "/" + database
		return u.String()
	}
	parts := strings.Fields(dsn)
	found := false
	for i := range parts {
		if strings.HasPrefix(strings.ToLower(parts[i]), "dbname=") {
			parts[i] = "dbname=" + database
			found = true
			break
		}
	}
	if !found {
		parts = append(parts, "dbname="+database)
	}
	return strings.Join(parts, " ")
}
