package mail

import (
	"context"
	"fmt"
	"time"
)

// Composer accumulates a draft e-mail. Setters perform no validation; the
// full pipeline (validate, prepare, encrypt, persist) runs on Send.
type Composer struct {
	mailer *Mailer
	draft  draft
}

// draft is the plain accumulated state, kept separate from the Email record
// so the composer never aliases a half-built row.
type draft struct {
	label        string
	hasLabel     bool
	recipient    AddressList
	cc           AddressList
	bcc          AddressList
	replyTo      AddressList
	from         Address
	subject      string
	hasSubject   bool
	view         string
	variables    map[string]any
	hasVariables bool
	body         string
	hasBody      bool
	attachments  []Attachment
	scheduledAt  string
	hasScheduled bool

	queued bool
	delay  time.Duration
}

// Label tags the e-mail with a free-form classification label.
func (c *Composer) Label(label string) *Composer {
	c.draft.label = label
	c.draft.hasLabel = true
	return c
}

// To sets the recipients.
func (c *Composer) To(recipients AddressList) *Composer {
	c.draft.recipient = recipients
	return c
}

// ToAddress adds a single recipient without a display name.
func (c *Composer) ToAddress(address string) *Composer {
	if c.draft.recipient == nil {
		c.draft.recipient = AddressList{}
	}
	c.draft.recipient[address] = ""
	return c
}

// Cc sets the carbon-copy recipients.
func (c *Composer) Cc(cc AddressList) *Composer {
	c.draft.cc = cc
	return c
}

// Bcc sets the blind carbon-copy recipients.
func (c *Composer) Bcc(bcc AddressList) *Composer {
	c.draft.bcc = bcc
	return c
}

// ReplyTo sets the reply-to addresses.
func (c *Composer) ReplyTo(replyTo AddressList) *Composer {
	c.draft.replyTo = replyTo
	return c
}

// From sets the sender identity, overriding the configured default.
func (c *Composer) From(address, name string) *Composer {
	c.draft.from = Address{Address: address, Name: name}
	return c
}

// Subject sets the e-mail subject.
func (c *Composer) Subject(subject string) *Composer {
	c.draft.subject = subject
	c.draft.hasSubject = true
	return c
}

// View sets the template identifier used to render the body.
func (c *Composer) View(view string) *Composer {
	c.draft.view = view
	return c
}

// Variables sets the template variables.
func (c *Composer) Variables(variables map[string]any) *Composer {
	c.draft.variables = variables
	c.draft.hasVariables = true
	return c
}

// Body supplies pre-rendered content, bypassing the renderer.
func (c *Composer) Body(body string) *Composer {
	c.draft.body = body
	c.draft.hasBody = true
	return c
}

// Attach appends an attachment descriptor.
func (c *Composer) Attach(att Attachment) *Composer {
	c.draft.attachments = append(c.draft.attachments, att)
	return c
}

// Send runs the pipeline and persists the record. Depending on
// configuration the e-mail is then dispatched asynchronously, sent
// immediately, or left pending for the queue runner. The returned record
// reflects the database-assigned id and defaults.
func (c *Composer) Send(ctx context.Context) (*Email, error) {
	m := c.mailer

	if err := validate(&c.draft, m.renderer); err != nil {
		return nil, err
	}

	email, err := prepare(&c.draft, m)
	if err != nil {
		return nil, err
	}

	if m.opts.Encrypt {
		if err := markEncrypted(email, m.crypter); err != nil {
			return nil, fmt.Errorf("encrypting e-mail fields: %w", err)
		}
	}

	if err := m.store.Insert(ctx, email); err != nil {
		return nil, fmt.Errorf("persisting e-mail: %w", err)
	}

	persisted, err := m.store.Get(ctx, email.ID)
	if err != nil {
		return nil, fmt.Errorf("refreshing e-mail %d: %w", email.ID, err)
	}

	if c.draft.queued {
		if m.Dispatch == nil {
			return nil, fmt.Errorf("e-mail %d queued but no dispatcher configured", persisted.ID)
		}
		if err := m.Dispatch.Enqueue(ctx, persisted.ID, c.draft.delay); err != nil {
			return nil, fmt.Errorf("dispatching e-mail %d: %w", persisted.ID, err)
		}
		return persisted, nil
	}

	if m.opts.SendImmediately && m.SendNow != nil {
		if err := m.SendNow(ctx, persisted); err != nil {
			return persisted, err
		}
		persisted, err = m.store.Get(ctx, persisted.ID)
		if err != nil {
			return nil, fmt.Errorf("refreshing e-mail after send: %w", err)
		}
	}

	return persisted, nil
}

// Schedule sets the earliest send time and persists the record. The value
// must be an absolute timestamp (RFC 3339 or "2006-01-02 15:04:05").
func (c *Composer) Schedule(ctx context.Context, at string) (*Email, error) {
	c.draft.scheduledAt = at
	c.draft.hasScheduled = true
	return c.Send(ctx)
}

// ScheduleAt is Schedule with a concrete time.
func (c *Composer) ScheduleAt(ctx context.Context, at time.Time) (*Email, error) {
	return c.Schedule(ctx, at.Format(time.RFC3339))
}

// Queue persists the record with queued_at set and hands it to the async
// dispatch facility, returning without blocking on delivery.
func (c *Composer) Queue(ctx context.Context, delay time.Duration) (*Email, error) {
	c.draft.queued = true
	c.draft.delay = delay
	return c.Send(ctx)
}

// FromMessage fills the composer from a structured message description,
// applying the same normalization as the individual setters. It fails with
// ErrMissingSender when no sender identity is resolvable.
func (c *Composer) FromMessage(msg *Message) (*Composer, error) {
	if err := readMessage(c, msg); err != nil {
		return nil, err
	}
	return c, nil
}
