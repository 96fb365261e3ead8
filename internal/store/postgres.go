package store

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// openPostgres opens a postgres connection from a URL or key=value DSN.
func openPostgres(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}
