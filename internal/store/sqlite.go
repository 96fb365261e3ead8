package store

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// openSQLite opens a sqlite database file. Busy timeout and foreign keys
// are enabled unless the DSN already configures them.
func openSQLite(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = "postbox.db"
	}
	if !strings.Contains(dsn, "_busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_busy_timeout=5000&_foreign_keys=on"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A sqlite file supports one writer; allowing more connections only
	// produces SQLITE_BUSY under the claim updates.
	db.SetMaxOpenConns(1)
	return db, nil
}
