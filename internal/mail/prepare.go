package mail

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// prepare turns a validated draft into an Email ready for storage. The
// testing-mode override runs here, after validation, so malformed input is
// still rejected before any redirection happens.
func prepare(d *draft, m *Mailer) (*Email, error) {
	email := &Email{}

	if d.hasLabel {
		email.Label = d.label
	}

	recipient := d.recipient
	cc := d.cc
	bcc := d.bcc
	if m.opts.TestingEnabled {
		recipient = AddressList{m.opts.TestingEmail: ""}
		cc = nil
		bcc = nil
	}
	email.Recipient = normalizeList(recipient)
	email.Cc = normalizeList(cc)
	email.Bcc = normalizeList(bcc)
	email.ReplyTo = normalizeList(d.replyTo)

	from := d.from
	if from.Empty() {
		from = m.opts.DefaultFrom
	}
	email.From = Address{
		Address: from.Address,
		Name:    norm.NFC.String(from.Name),
	}

	email.Subject = norm.NFC.String(d.subject)
	email.View = d.view
	if d.hasVariables {
		email.Variables = d.variables
	}

	// The body is materialized once at compose time and persisted, so
	// delivery never re-renders and replay stays idempotent.
	if d.hasBody {
		email.Body = d.body
	} else {
		body, err := m.renderer.Render(d.view, d.variables)
		if err != nil {
			return nil, fmt.Errorf("rendering view %q: %w", d.view, err)
		}
		email.Body = body
	}

	email.Attachments = d.attachments

	if d.hasScheduled {
		at, err := parseSchedule(d.scheduledAt)
		if err != nil {
			return nil, fmt.Errorf("parsing scheduled date: %w", err)
		}
		at = at.UTC()
		email.ScheduledAt = &at
	}

	if d.queued {
		now := m.now().UTC()
		email.QueuedAt = &now
	}

	return email, nil
}

// normalizeList NFC-normalizes display names and drops empty lists.
func normalizeList(list AddressList) AddressList {
	if len(list) == 0 {
		return nil
	}
	out := make(AddressList, len(list))
	for addr, name := range list {
		out[addr] = norm.NFC.String(name)
	}
	return out
}

// markEncrypted flags the record for encryption at rest. The store encodes
// recipient, cc, bcc, reply_to, from, subject, variables, and body as
// ciphertext on write and decrypts them on read; in-memory values stay
// plaintext. Attachments are never encrypted: they reference external
// storage, not inline content.
func markEncrypted(email *Email, crypter Crypter) error {
	if crypter == nil {
		return fmt.Errorf("encryption enabled but no crypter configured")
	}
	email.Encrypted = true
	return nil
}
