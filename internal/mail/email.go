package mail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// AddressList maps e-mail addresses to optional display names. An empty
// display name is persisted as JSON null, matching the stored column format.
type AddressList map[string]string

// Addresses returns the addresses in deterministic order.
func (a AddressList) Addresses() []string {
	out := make([]string, 0, len(a))
	for addr := range a {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the list as an object of address -> name|null.
func (a AddressList) MarshalJSON() ([]byte, error) {
	if a == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, addr := range a.Addresses() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(addr)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if name := a[addr]; name != "" {
			val, err := json.Marshal(name)
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		} else {
			buf.WriteString("null")
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes an object of address -> name|null.
func (a *AddressList) UnmarshalJSON(data []byte) error {
	var raw map[string]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*a = nil
		return nil
	}
	out := make(AddressList, len(raw))
	for addr, name := range raw {
		if name != nil {
			out[addr] = *name
		} else {
			out[addr] = ""
		}
	}
	*a = out
	return nil
}

// Address is a single sender or reply-to identity.
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// String renders the address in RFC 5322 display form.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// Empty reports whether no address is set.
func (a Address) Empty() bool {
	return a.Address == ""
}

// Attachment references content stored outside the database. Raw in-memory
// attachments are not supported: the queue must be able to rebuild the
// message after a process restart, so content has to live at a retrievable
// path or disk reference.
type Attachment struct {
	Path string `json:"path"`
	Disk string `json:"disk,omitempty"`
	Name string `json:"name,omitempty"`
	MIME string `json:"mime,omitempty"`
}

// Email is the durable record representing one e-mail and its delivery
// lifecycle. Field values are always plaintext in memory; the store encrypts
// on write and decrypts on read when encryption is enabled.
type Email struct {
	ID          int64
	Label       string
	Recipient   AddressList
	Cc          AddressList
	Bcc         AddressList
	ReplyTo     AddressList
	From        Address
	Subject     string
	View        string
	Variables   map[string]any
	Body        string
	Attachments []Attachment

	Attempts  int
	Sending   bool
	Failed    bool
	Error     string
	Encrypted bool

	QueuedAt    *time.Time
	ScheduledAt *time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// IsSent reports whether the e-mail reached its terminal sent state.
func (e *Email) IsSent() bool {
	return e.SentAt != nil
}

// HasFailed reports whether the e-mail reached its terminal failed state.
func (e *Email) HasFailed() bool {
	return e.Failed
}

// RecipientsString joins all recipient addresses for operator output.
func (e *Email) RecipientsString() string {
	addrs := e.Recipient.Addresses()
	out := ""
	for i, addr := range addrs {
		if i > 0 {
			out += ","
		}
		out += addr
	}
	return out
}
