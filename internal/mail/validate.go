package mail

import (
	"fmt"
	stdmail "net/mail"
	"strings"
	"time"
)

// Validation reason codes.
const (
	ReasonLabelTooLong    = "label_too_long"
	ReasonNoRecipient     = "no_recipient"
	ReasonInvalidAddress  = "invalid_address"
	ReasonNoSubject       = "no_subject"
	ReasonNoView          = "no_view"
	ReasonUnknownView     = "unknown_view"
	ReasonInvalidSchedule = "invalid_schedule"
)

// ValidationError reports a composer-time failure. Nothing is persisted
// when validation fails.
type ValidationError struct {
	Reason string
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mail: invalid %s: %s", e.Field, e.Detail)
}

const maxLabelLength = 255

// scheduleLayouts are the accepted absolute timestamp forms.
var scheduleLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

func validate(d *draft, renderer Renderer) error {
	if d.hasLabel && len(d.label) > maxLabelLength {
		return &ValidationError{
			Reason: ReasonLabelTooLong,
			Field:  "label",
			Detail: fmt.Sprintf("label [%s] is too large for database storage", d.label),
		}
	}

	if len(d.recipient) == 0 {
		return &ValidationError{
			Reason: ReasonNoRecipient,
			Field:  "recipient",
			Detail: "no recipient specified",
		}
	}

	for field, list := range map[string]AddressList{
		"recipient": d.recipient,
		"cc":        d.cc,
		"bcc":       d.bcc,
		"reply_to":  d.replyTo,
	} {
		for _, addr := range list.Addresses() {
			if !validAddress(addr) {
				return &ValidationError{
					Reason: ReasonInvalidAddress,
					Field:  field,
					Detail: fmt.Sprintf("e-mail address [%s] is invalid", addr),
				}
			}
		}
	}

	if !d.hasSubject || strings.TrimSpace(d.subject) == "" {
		return &ValidationError{
			Reason: ReasonNoSubject,
			Field:  "subject",
			Detail: "no subject specified",
		}
	}

	// A pre-rendered body stands in for a view.
	if !d.hasBody {
		if d.view == "" {
			return &ValidationError{
				Reason: ReasonNoView,
				Field:  "view",
				Detail: "no view specified",
			}
		}
		if renderer == nil || !renderer.Exists(d.view) {
			return &ValidationError{
				Reason: ReasonUnknownView,
				Field:  "view",
				Detail: fmt.Sprintf("view [%s] does not exist", d.view),
			}
		}
	}

	if d.hasScheduled {
		if _, err := parseSchedule(d.scheduledAt); err != nil {
			return &ValidationError{
				Reason: ReasonInvalidSchedule,
				Field:  "scheduled_at",
				Detail: fmt.Sprintf("scheduled date [%s] could not be parsed", d.scheduledAt),
			}
		}
	}

	return nil
}

// validAddress checks RFC 5322 syntax for a bare address. Display forms
// ("Name <addr>") are rejected: names live in the address list values.
func validAddress(addr string) bool {
	parsed, err := stdmail.ParseAddress(addr)
	if err != nil {
		return false
	}
	return parsed.Address == addr
}

func parseSchedule(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range scheduleLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
