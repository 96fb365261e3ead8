package mail

// Message is a structured message description: a pre-built envelope plus
// content, read by the composer instead of individual field setters.
type Message struct {
	Envelope    Envelope
	Subject     string
	View        string
	Variables   map[string]any
	Body        string
	Attachments []Attachment
}

// Envelope holds the addressing of a structured message.
type Envelope struct {
	From    Address
	To      AddressList
	Cc      AddressList
	Bcc     AddressList
	ReplyTo AddressList
}

// readMessage extracts the message fields into the composer draft with the
// same normalization as manual field-setting.
func readMessage(c *Composer, msg *Message) error {
	if msg.Envelope.From.Empty() && c.mailer.opts.DefaultFrom.Empty() {
		return ErrMissingSender
	}

	if len(msg.Envelope.To) > 0 {
		c.To(msg.Envelope.To)
	}
	if len(msg.Envelope.Cc) > 0 {
		c.Cc(msg.Envelope.Cc)
	}
	if len(msg.Envelope.Bcc) > 0 {
		c.Bcc(msg.Envelope.Bcc)
	}
	if len(msg.Envelope.ReplyTo) > 0 {
		c.ReplyTo(msg.Envelope.ReplyTo)
	}
	if !msg.Envelope.From.Empty() {
		c.From(msg.Envelope.From.Address, msg.Envelope.From.Name)
	}

	c.Subject(msg.Subject)

	if msg.View != "" {
		c.View(msg.View)
	}
	if msg.Variables != nil {
		c.Variables(msg.Variables)
	}
	if msg.Body != "" {
		c.Body(msg.Body)
	}

	for _, att := range msg.Attachments {
		c.Attach(att)
	}

	return nil
}
