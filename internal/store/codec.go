package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/busybox42/postbox/internal/mail"
)

// columns is the wire form of an Email: JSON-encoded lists and, when the
// record is encrypted, ciphertext for the sensitive fields.
type columns struct {
	label       sql.NullString
	recipient   string
	cc          string
	bcc         string
	replyTo     string
	sender      string
	subject     string
	variables   sql.NullString
	body        string
	attachments sql.NullString
	errText     sql.NullString
}

// encodeEmail converts an Email to its wire form. When the record is marked
// encrypted, the sensitive columns are sealed; attachment descriptors never
// are, since they only reference external storage.
func encodeEmail(email *mail.Email, crypter mail.Crypter) (columns, error) {
	var cols columns

	if email.Label != "" {
		cols.label = sql.NullString{String: email.Label, Valid: true}
	}
	if email.Error != "" {
		cols.errText = sql.NullString{String: email.Error, Valid: true}
	}

	var err error
	if cols.recipient, err = marshalField(email.Recipient); err != nil {
		return cols, err
	}
	if cols.cc, err = marshalField(email.Cc); err != nil {
		return cols, err
	}
	if cols.bcc, err = marshalField(email.Bcc); err != nil {
		return cols, err
	}
	if cols.replyTo, err = marshalField(email.ReplyTo); err != nil {
		return cols, err
	}
	if cols.sender, err = marshalField(email.From); err != nil {
		return cols, err
	}
	cols.subject = email.Subject
	cols.body = email.Body

	if email.Variables != nil {
		raw, err := json.Marshal(email.Variables)
		if err != nil {
			return cols, fmt.Errorf("marshaling variables: %w", err)
		}
		cols.variables = sql.NullString{String: string(raw), Valid: true}
	}
	if email.Attachments != nil {
		raw, err := json.Marshal(email.Attachments)
		if err != nil {
			return cols, fmt.Errorf("marshaling attachments: %w", err)
		}
		cols.attachments = sql.NullString{String: string(raw), Valid: true}
	}

	if email.Encrypted {
		if crypter == nil {
			return cols, fmt.Errorf("e-mail marked encrypted but store has no crypter")
		}
		for _, field := range []*string{
			&cols.recipient, &cols.cc, &cols.bcc, &cols.replyTo,
			&cols.sender, &cols.subject, &cols.body,
		} {
			enc, err := crypter.Encrypt(*field)
			if err != nil {
				return cols, fmt.Errorf("encrypting field: %w", err)
			}
			*field = enc
		}
		if cols.variables.Valid {
			enc, err := crypter.Encrypt(cols.variables.String)
			if err != nil {
				return cols, fmt.Errorf("encrypting variables: %w", err)
			}
			cols.variables.String = enc
		}
	}

	return cols, nil
}

func marshalField(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling field: %w", err)
	}
	return string(raw), nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanEmail(row rowScanner) (*mail.Email, error) {
	var (
		email       mail.Email
		cols        columns
		queuedAt    sql.NullTime
		scheduledAt sql.NullTime
		sentAt      sql.NullTime
		deliveredAt sql.NullTime
		deletedAt   sql.NullTime
	)

	err := row.Scan(
		&email.ID, &cols.label, &cols.recipient, &cols.cc, &cols.bcc,
		&cols.replyTo, &cols.sender, &cols.subject, &email.View,
		&cols.variables, &cols.body, &cols.attachments, &email.Attempts,
		&email.Sending, &email.Failed, &cols.errText, &email.Encrypted,
		&queuedAt, &scheduledAt, &sentAt, &deliveredAt,
		&email.CreatedAt, &email.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	email.Label = cols.label.String
	email.Error = cols.errText.String
	email.QueuedAt = timePtr(queuedAt)
	email.ScheduledAt = timePtr(scheduledAt)
	email.SentAt = timePtr(sentAt)
	email.DeliveredAt = timePtr(deliveredAt)
	email.DeletedAt = timePtr(deletedAt)

	if email.Encrypted {
		// A failed decryption (rotated key, missing crypter) degrades to an
		// empty value so one bad record cannot break bulk reads.
		cols.recipient = s.decryptOrEmpty(email.ID, cols.recipient)
		cols.cc = s.decryptOrEmpty(email.ID, cols.cc)
		cols.bcc = s.decryptOrEmpty(email.ID, cols.bcc)
		cols.replyTo = s.decryptOrEmpty(email.ID, cols.replyTo)
		cols.sender = s.decryptOrEmpty(email.ID, cols.sender)
		cols.subject = s.decryptOrEmpty(email.ID, cols.subject)
		cols.body = s.decryptOrEmpty(email.ID, cols.body)
		if cols.variables.Valid {
			cols.variables.String = s.decryptOrEmpty(email.ID, cols.variables.String)
		}
	}

	if err := unmarshalField(cols.recipient, &email.Recipient); err != nil {
		return nil, fmt.Errorf("decoding recipient of e-mail %d: %w", email.ID, err)
	}
	if err := unmarshalField(cols.cc, &email.Cc); err != nil {
		return nil, fmt.Errorf("decoding cc of e-mail %d: %w", email.ID, err)
	}
	if err := unmarshalField(cols.bcc, &email.Bcc); err != nil {
		return nil, fmt.Errorf("decoding bcc of e-mail %d: %w", email.ID, err)
	}
	if err := unmarshalField(cols.replyTo, &email.ReplyTo); err != nil {
		return nil, fmt.Errorf("decoding reply_to of e-mail %d: %w", email.ID, err)
	}
	if err := unmarshalField(cols.sender, &email.From); err != nil {
		return nil, fmt.Errorf("decoding sender of e-mail %d: %w", email.ID, err)
	}
	email.Subject = cols.subject
	email.Body = cols.body

	if cols.variables.Valid && cols.variables.String != "" {
		if err := json.Unmarshal([]byte(cols.variables.String), &email.Variables); err != nil {
			return nil, fmt.Errorf("decoding variables of e-mail %d: %w", email.ID, err)
		}
	}
	if cols.attachments.Valid && cols.attachments.String != "" {
		if err := json.Unmarshal([]byte(cols.attachments.String), &email.Attachments); err != nil {
			return nil, fmt.Errorf("decoding attachments of e-mail %d: %w", email.ID, err)
		}
	}

	return &email, nil
}

func (s *Store) scanEmails(rows *sql.Rows) ([]*mail.Email, error) {
	var out []*mail.Email
	for rows.Next() {
		email, err := s.scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

func (s *Store) decryptOrEmpty(id int64, value string) string {
	if s.crypter == nil {
		s.logger.Warn("encrypted e-mail read without crypter", "id", id)
		return ""
	}
	plain, err := s.crypter.Decrypt(value)
	if err != nil {
		s.logger.Warn("cannot decrypt e-mail field", "id", id, "error", err)
		return ""
	}
	return plain
}

// unmarshalField decodes a JSON column, treating empty text (including a
// degraded decryption) as absent.
func unmarshalField(raw string, dest any) error {
	if raw == "" || raw == "null" {
		return nil
	}
	return json.Unmarshal([]byte(raw), dest)
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
