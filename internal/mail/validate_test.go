package mail

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sendDraft(t *testing.T, build func(*Composer) *Composer) error {
	t.Helper()
	m, _ := newTestMailer(Options{})
	_, err := build(m.Compose()).Send(context.Background())
	return err
}

func requireReason(t *testing.T, err error, reason string) {
	t.Helper()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, reason, verr.Reason)
}

func TestValidateLabelTooLong(t *testing.T) {
	err := sendDraft(t, func(c *Composer) *Composer {
		return c.Label(strings.Repeat("x", 256)).
			ToAddress("john@doe.com").
			Subject("Hello").
			View("welcome")
	})
	requireReason(t, err, ReasonLabelTooLong)
}

func TestValidateLabelAtLimit(t *testing.T) {
	err := sendDraft(t, func(c *Composer) *Composer {
		return c.Label(strings.Repeat("x", 255)).
			ToAddress("john@doe.com").
			Subject("Hello").
			View("welcome")
	})
	require.NoError(t, err)
}

func TestValidateNoRecipient(t *testing.T) {
	err := sendDraft(t, func(c *Composer) *Composer {
		return c.Subject("Hello").View("welcome")
	})
	requireReason(t, err, ReasonNoRecipient)
}

func TestValidateInvalidAddresses(t *testing.T) {
	cases := []struct {
		name  string
		build func(*Composer) *Composer
		field string
	}{
		{
			name: "recipient",
			build: func(c *Composer) *Composer {
				return c.ToAddress("not-an-address")
			},
			field: "recipient",
		},
		{
			name: "cc",
			build: func(c *Composer) *Composer {
				return c.ToAddress("john@doe.com").Cc(AddressList{"bogus": ""})
			},
			field: "cc",
		},
		{
			name: "bcc",
			build: func(c *Composer) *Composer {
				return c.ToAddress("john@doe.com").Bcc(AddressList{"bogus": ""})
			},
			field: "bcc",
		},
		{
			name: "reply_to",
			build: func(c *Composer) *Composer {
				return c.ToAddress("john@doe.com").ReplyTo(AddressList{"bogus": ""})
			},
			field: "reply_to",
		},
		{
			name: "display form rejected",
			build: func(c *Composer) *Composer {
				return c.ToAddress("John Doe <john@doe.com>")
			},
			field: "recipient",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := sendDraft(t, func(c *Composer) *Composer {
				return tc.build(c).Subject("Hello").View("welcome")
			})
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, ReasonInvalidAddress, verr.Reason)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestValidateNoSubject(t *testing.T) {
	err := sendDraft(t, func(c *Composer) *Composer {
		return c.ToAddress("john@doe.com").View("welcome")
	})
	requireReason(t, err, ReasonNoSubject)
}

func TestValidateBlankSubject(t *testing.T) {
	err := sendDraft(t, func(c *Composer) *Composer {
		return c.ToAddress("john@doe.com").Subject("   ").View("welcome")
	})
	requireReason(t, err, ReasonNoSubject)
}

func TestValidateNoView(t *testing.T) {
	err := sendDraft(t, func(c *Composer) *Composer {
		return c.ToAddress("john@doe.com").Subject("Hello")
	})
	requireReason(t, err, ReasonNoView)
}

func TestValidateUnknownView(t *testing.T) {
	err := sendDraft(t, func(c *Composer) *Composer {
		return c.ToAddress("john@doe.com").Subject("Hello").View("missing")
	})
	requireReason(t, err, ReasonUnknownView)
}

func TestValidateBodySkipsViewCheck(t *testing.T) {
	err := sendDraft(t, func(c *Composer) *Composer {
		return c.ToAddress("john@doe.com").Subject("Hello").Body("<p>hi</p>")
	})
	require.NoError(t, err)
}

func TestValidAddress(t *testing.T) {
	cases := []struct {
		addr  string
		valid bool
	}{
		{"john@doe.com", true},
		{"john+tag@doe.com", true},
		{"john@sub.doe.com", true},
		{"bogus", false},
		{"", false},
		{"john@", false},
		{"@doe.com", false},
		{"John Doe <john@doe.com>", false},
		{"john@doe.com, jane@doe.com", false},
	}

	for _, tc := range cases {
		if got := validAddress(tc.addr); got != tc.valid {
			t.Errorf("validAddress(%q) = %v, want %v", tc.addr, got, tc.valid)
		}
	}
}

func TestParseScheduleLayouts(t *testing.T) {
	for _, value := range []string{
		"2026-09-01T10:00:00Z",
		"2026-09-01T10:00:00+02:00",
		"2026-09-01 10:00:00",
		"2026-09-01T10:00:00",
	} {
		if _, err := parseSchedule(value); err != nil {
			t.Errorf("parseSchedule(%q) failed: %v", value, err)
		}
	}

	for _, value := range []string{"", "tomorrow", "2026-09-01", "10:00"} {
		if _, err := parseSchedule(value); err == nil {
			t.Errorf("parseSchedule(%q) succeeded, want error", value)
		}
	}
}
