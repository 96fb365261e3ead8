// Package store persists Email records and answers the eligibility queries
// that drive the queue runner. It speaks plain database/sql and supports
// sqlite, mysql, and postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/busybox42/postbox/internal/mail"
)

// ErrNotFound is returned when no e-mail exists for the given id.
var ErrNotFound = errors.New("store: e-mail not found")

// Options holds the selector configuration.
type Options struct {
	// MaxAttempts bounds how often an e-mail may be attempted.
	MaxAttempts int
	// Limit bounds how many e-mails one GetQueue call returns.
	Limit int
}

// Store wraps a SQL database holding the emails table.
type Store struct {
	db      *sql.DB
	driver  string
	opts    Options
	crypter mail.Crypter
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a store. The crypter may be nil when no encrypted records
// exist; reading an encrypted record without one degrades to empty fields.
func New(db *sql.DB, driver string, opts Options, crypter mail.Crypter) *Store {
	if opts.MaxAttempts < 3 {
		opts.MaxAttempts = 3
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	return &Store{
		db:      db,
		driver:  driver,
		opts:    opts,
		crypter: crypter,
		logger:  slog.Default().With("component", "store"),
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.now = now
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

const emailColumns = `id, label, recipient, cc, bcc, reply_to, sender, subject,
	view, variables, body, attachments, attempts, sending, failed, error,
	encrypted, queued_at, scheduled_at, sent_at, delivered_at,
	created_at, updated_at, deleted_at`

// rebind rewrites ? placeholders to the driver's native form.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Insert persists a new e-mail and fills in its database-assigned id and
// timestamps.
func (s *Store) Insert(ctx context.Context, email *mail.Email) error {
	now := s.now().UTC()
	email.CreatedAt = now
	email.UpdatedAt = now

	cols, err := encodeEmail(email, s.crypter)
	if err != nil {
		return fmt.Errorf("encoding e-mail: %w", err)
	}

	query := `INSERT INTO emails
		(label, recipient, cc, bcc, reply_to, sender, subject, view,
		 variables, body, attachments, attempts, sending, failed, error,
		 encrypted, queued_at, scheduled_at, sent_at, delivered_at,
		 created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	args := []any{
		cols.label, cols.recipient, cols.cc, cols.bcc, cols.replyTo,
		cols.sender, cols.subject, email.View, cols.variables, cols.body,
		cols.attachments, email.Attempts, email.Sending, email.Failed,
		cols.errText, email.Encrypted, nullTime(email.QueuedAt),
		nullTime(email.ScheduledAt), nullTime(email.SentAt),
		nullTime(email.DeliveredAt), email.CreatedAt, email.UpdatedAt,
		nullTime(email.DeletedAt),
	}

	if s.driver == "postgres" {
		query = s.rebind(query + " RETURNING id")
		return s.db.QueryRowContext(ctx, query, args...).Scan(&email.ID)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	email.ID = id
	return nil
}

// Get fetches one e-mail by id, including soft-deleted records.
func (s *Store) Get(ctx context.Context, id int64) (*mail.Email, error) {
	query := s.rebind(`SELECT ` + emailColumns + ` FROM emails WHERE id = ?`)
	row := s.db.QueryRowContext(ctx, query, id)
	email, err := s.scanEmail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return email, err
}

// GetQueue returns the e-mails eligible to send right now: not soft-deleted,
// unsent, due, not failed, not in-flight, and under the attempt limit.
// Oldest first, at most Limit rows.
func (s *Store) GetQueue(ctx context.Context) ([]*mail.Email, error) {
	query := s.rebind(`SELECT ` + emailColumns + ` FROM emails
		WHERE deleted_at IS NULL
		  AND sent_at IS NULL
		  AND (scheduled_at IS NULL OR scheduled_at <= ?)
		  AND failed = ?
		  AND sending = ?
		  AND attempts < ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query,
		s.now().UTC(), false, false, s.opts.MaxAttempts, s.opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("querying queue: %w", err)
	}
	defer rows.Close()

	return s.scanEmails(rows)
}

// GetFailed returns failed, unsent, non-deleted e-mails, optionally narrowed
// to a single id (0 means all).
func (s *Store) GetFailed(ctx context.Context, id int64) ([]*mail.Email, error) {
	query := `SELECT ` + emailColumns + ` FROM emails
		WHERE failed = ? AND sent_at IS NULL AND deleted_at IS NULL`
	args := []any{true}
	if id != 0 {
		query += ` AND id = ?`
		args = append(args, id)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying failed e-mails: %w", err)
	}
	defer rows.Close()

	return s.scanEmails(rows)
}

// Claim atomically marks an e-mail as sending and consumes one attempt.
// The compare-and-swap on sending=false is the sole concurrency control:
// out of any number of concurrent claimers exactly one sees a true return.
func (s *Store) Claim(ctx context.Context, id int64) (bool, error) {
	query := s.rebind(`UPDATE emails
		SET sending = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND sending = ? AND sent_at IS NULL AND deleted_at IS NULL`)

	res, err := s.db.ExecContext(ctx, query, true, s.now().UTC(), id, false)
	if err != nil {
		return false, fmt.Errorf("claiming e-mail %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkSent records a successful delivery. Clearing failed and error lets a
// record that failed earlier attempts show a clean terminal state.
func (s *Store) MarkSent(ctx context.Context, id int64) error {
	now := s.now().UTC()
	query := s.rebind(`UPDATE emails
		SET sending = ?, sent_at = ?, failed = ?, error = '', updated_at = ?
		WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, false, now, false, now, id)
	if err != nil {
		return fmt.Errorf("marking e-mail %d sent: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt. The failed flag is set eagerly only
// when the attempts are exhausted; otherwise the record stays pending for
// the next cycle.
func (s *Store) MarkFailed(ctx context.Context, id int64, sendErr string, exhausted bool) error {
	query := s.rebind(`UPDATE emails
		SET sending = ?, failed = ?, error = ?, updated_at = ?
		WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, false, exhausted, sendErr, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("marking e-mail %d failed: %w", id, err)
	}
	return nil
}

// MarkDelivered records transport-level delivery confirmation.
func (s *Store) MarkDelivered(ctx context.Context, id int64) error {
	now := s.now().UTC()
	query := s.rebind(`UPDATE emails SET delivered_at = ?, updated_at = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, now, now, id)
	return err
}

// SoftDelete marks an e-mail deleted without removing the row.
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	now := s.now().UTC()
	query := s.rebind(`UPDATE emails SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`)
	_, err := s.db.ExecContext(ctx, query, now, now, id)
	return err
}

// ResetFailed returns failed, unsent e-mails to the pending state so the
// runner picks them up again, optionally narrowed to one id (0 means all).
func (s *Store) ResetFailed(ctx context.Context, id int64) (int64, error) {
	query := `UPDATE emails
		SET attempts = 0, sending = ?, failed = ?, error = NULL, updated_at = ?
		WHERE failed = ? AND sent_at IS NULL AND deleted_at IS NULL`
	args := []any{false, false, s.now().UTC(), true}
	if id != 0 {
		query += ` AND id = ?`
		args = append(args, id)
	}
	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("resetting failed e-mails: %w", err)
	}
	return res.RowsAffected()
}

// ReleaseStale clears the sending flag on records stuck in-flight since
// before the cutoff, typically after a crashed worker. The claim update has
// no lease built in, so this is the operator-facing repair.
func (s *Store) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	query := s.rebind(`UPDATE emails
		SET sending = ?, updated_at = ?
		WHERE sending = ? AND sent_at IS NULL AND updated_at < ?`)
	res, err := s.db.ExecContext(ctx, query, false, s.now().UTC(), true, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("releasing stale e-mails: %w", err)
	}
	return res.RowsAffected()
}

// Prune hard-deletes terminal records created before the cutoff.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	query := s.rebind(`DELETE FROM emails
		WHERE created_at < ? AND (sent_at IS NOT NULL OR failed = ? OR deleted_at IS NOT NULL)`)
	res, err := s.db.ExecContext(ctx, query, before.UTC(), true)
	if err != nil {
		return 0, fmt.Errorf("pruning e-mails: %w", err)
	}
	return res.RowsAffected()
}

// Stats summarizes the queue for operator visibility.
type Stats struct {
	Pending int64 `json:"pending"`
	Sending int64 `json:"sending"`
	Sent    int64 `json:"sent"`
	Failed  int64 `json:"failed"`
}

// QueueStats counts records per lifecycle state.
func (s *Store) QueueStats(ctx context.Context) (Stats, error) {
	var st Stats
	query := s.rebind(`SELECT
		COUNT(CASE WHEN sent_at IS NULL AND failed = ? AND sending = ? THEN 1 END),
		COUNT(CASE WHEN sending = ? AND sent_at IS NULL THEN 1 END),
		COUNT(CASE WHEN sent_at IS NOT NULL THEN 1 END),
		COUNT(CASE WHEN failed = ? AND sent_at IS NULL THEN 1 END)
		FROM emails WHERE deleted_at IS NULL`)
	err := s.db.QueryRowContext(ctx, query, false, false, true, true).
		Scan(&st.Pending, &st.Sending, &st.Sent, &st.Failed)
	if err != nil {
		return Stats{}, fmt.Errorf("querying queue stats: %w", err)
	}
	return st, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
