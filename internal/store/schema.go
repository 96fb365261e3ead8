package store

import (
	"context"
	"fmt"
)

// Schema DDL per driver. One table holds every e-mail; sent_at carries an
// index because the selector predicate filters on it constantly.

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS emails (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	label        TEXT,
	recipient    TEXT NOT NULL,
	cc           TEXT NOT NULL DEFAULT '',
	bcc          TEXT NOT NULL DEFAULT '',
	reply_to     TEXT NOT NULL DEFAULT '',
	sender       TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL,
	view         TEXT NOT NULL DEFAULT '',
	variables    TEXT,
	body         TEXT NOT NULL,
	attachments  TEXT,
	attempts     INTEGER NOT NULL DEFAULT 0,
	sending      BOOLEAN NOT NULL DEFAULT 0,
	failed       BOOLEAN NOT NULL DEFAULT 0,
	error        TEXT,
	encrypted    BOOLEAN NOT NULL DEFAULT 0,
	queued_at    TIMESTAMP,
	scheduled_at TIMESTAMP,
	sent_at      TIMESTAMP,
	delivered_at TIMESTAMP,
	created_at   TIMESTAMP NOT NULL,
	updated_at   TIMESTAMP NOT NULL,
	deleted_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_emails_sent_at ON emails (sent_at);
`

const schemaMySQL = `
CREATE TABLE IF NOT EXISTS emails (
	id           BIGINT AUTO_INCREMENT PRIMARY KEY,
	label        VARCHAR(255),
	recipient    TEXT NOT NULL,
	cc           TEXT,
	bcc          TEXT,
	reply_to     TEXT,
	sender       TEXT,
	subject      TEXT NOT NULL,
	view         VARCHAR(255) NOT NULL DEFAULT '',
	variables    TEXT,
	body         MEDIUMTEXT NOT NULL,
	attachments  TEXT,
	attempts     INT NOT NULL DEFAULT 0,
	sending      TINYINT(1) NOT NULL DEFAULT 0,
	failed       TINYINT(1) NOT NULL DEFAULT 0,
	error        TEXT,
	encrypted    TINYINT(1) NOT NULL DEFAULT 0,
	queued_at    DATETIME(6),
	scheduled_at DATETIME(6),
	sent_at      DATETIME(6),
	delivered_at DATETIME(6),
	created_at   DATETIME(6) NOT NULL,
	updated_at   DATETIME(6) NOT NULL,
	deleted_at   DATETIME(6),
	INDEX idx_emails_sent_at (sent_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS emails (
	id           BIGSERIAL PRIMARY KEY,
	label        VARCHAR(255),
	recipient    TEXT NOT NULL,
	cc           TEXT NOT NULL DEFAULT '',
	bcc          TEXT NOT NULL DEFAULT '',
	reply_to     TEXT NOT NULL DEFAULT '',
	sender       TEXT NOT NULL DEFAULT '',
	subject      TEXT NOT NULL,
	view         TEXT NOT NULL DEFAULT '',
	variables    TEXT,
	body         TEXT NOT NULL,
	attachments  TEXT,
	attempts     INTEGER NOT NULL DEFAULT 0,
	sending      BOOLEAN NOT NULL DEFAULT FALSE,
	failed       BOOLEAN NOT NULL DEFAULT FALSE,
	error        TEXT,
	encrypted    BOOLEAN NOT NULL DEFAULT FALSE,
	queued_at    TIMESTAMPTZ,
	scheduled_at TIMESTAMPTZ,
	sent_at      TIMESTAMPTZ,
	delivered_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	deleted_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_emails_sent_at ON emails (sent_at);
`

// Migrate creates the emails table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	var ddl string
	switch s.driver {
	case "sqlite":
		ddl = schemaSQLite
	case "mysql":
		ddl = schemaMySQL
	case "postgres":
		ddl = schemaPostgres
	default:
		return fmt.Errorf("unsupported database driver %q", s.driver)
	}

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("creating emails schema: %w", err)
	}
	s.logger.Info("database schema ready", "driver", s.driver)
	return nil
}
