package store

import (
	"database/sql"
	"strings"

	_ "github.com/go-sql-driver/mysql"
)

// openMySQL opens a mysql connection. parseTime is required so timestamp
// columns scan into time.Time.
func openMySQL(dsn string) (*sql.DB, error) {
	if !strings.Contains(dsn, "parseTime") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "parseTime=true"
	}
	return sql.Open("mysql", dsn)
}
