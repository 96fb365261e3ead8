package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PoolConfig bounds the database connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the configured database. Driver must be one of sqlite,
// mysql, or postgres; the matching driver file normalizes the DSN.
func Open(driver, dsn string, pool PoolConfig) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case "sqlite":
		db, err = openSQLite(dsn)
	case "mysql":
		db, err = openMySQL(dsn)
	case "postgres":
		db, err = openPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}

	// sqlite keeps the single connection its driver file configured.
	if pool.MaxOpenConns > 0 && driver != "sqlite" {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s database: %w", driver, err)
	}

	return db, nil
}
