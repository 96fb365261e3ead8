package sender

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/busybox42/postbox/internal/mail"
)

func TestBuildMIMESimple(t *testing.T) {
	env := &Envelope{
		From:     mail.Address{Address: "sender@example.com", Name: "Sender"},
		To:       mail.AddressList{"john@doe.com": "John Doe"},
		Cc:       mail.AddressList{"jane@doe.com": ""},
		Bcc:      mail.AddressList{"hidden@doe.com": ""},
		ReplyTo:  mail.AddressList{"support@example.com": ""},
		Subject:  "Hello",
		HTMLBody: "<p>Hello</p>",
	}

	msg := string(buildMIME(env))

	assert.Contains(t, msg, "From: Sender <sender@example.com>\r\n")
	assert.Contains(t, msg, "To: John Doe <john@doe.com>\r\n")
	assert.Contains(t, msg, "Cc: jane@doe.com\r\n")
	assert.Contains(t, msg, "Reply-To: support@example.com\r\n")
	assert.Contains(t, msg, "Subject: Hello\r\n")
	assert.Contains(t, msg, `Content-Type: text/html; charset="utf-8"`)
	assert.Contains(t, msg, "<p>Hello</p>")

	// Bcc recipients go via RCPT only, never into headers.
	assert.NotContains(t, msg, "hidden@doe.com")
	assert.NotContains(t, msg, "Bcc")
}

func TestBuildMIMEEncodesSubject(t *testing.T) {
	env := &Envelope{
		From:     mail.Address{Address: "sender@example.com"},
		To:       mail.AddressList{"john@doe.com": ""},
		Subject:  "Grüße aus Köln",
		HTMLBody: "x",
	}

	msg := string(buildMIME(env))
	assert.Contains(t, msg, "=?utf-8?q?")
	assert.NotContains(t, msg, "Subject: Grüße")
}

func TestBuildMIMEWithAttachment(t *testing.T) {
	env := &Envelope{
		From:     mail.Address{Address: "sender@example.com"},
		To:       mail.AddressList{"john@doe.com": ""},
		Subject:  "Invoice",
		HTMLBody: "<p>See attached.</p>",
		Attachments: []EnvelopeAttachment{
			{Name: "invoice.pdf", MIME: "application/pdf", Content: []byte("%PDF-1.4 test content")},
		},
	}

	msg := string(buildMIME(env))

	assert.Contains(t, msg, "multipart/mixed")
	assert.Contains(t, msg, "Content-Type: application/pdf\r\n")
	assert.Contains(t, msg, "Content-Transfer-Encoding: base64\r\n")
	assert.Contains(t, msg, `Content-Disposition: attachment; filename="invoice.pdf"`)
	assert.Contains(t, msg, "--"+mimeBoundary+"--\r\n")
}

func TestBuildMIMEWrapsBase64(t *testing.T) {
	env := &Envelope{
		From:     mail.Address{Address: "sender@example.com"},
		To:       mail.AddressList{"john@doe.com": ""},
		Subject:  "Big attachment",
		HTMLBody: "x",
		Attachments: []EnvelopeAttachment{
			{Name: "blob.bin", Content: make([]byte, 600)},
		},
	}

	for _, line := range strings.Split(string(buildMIME(env)), "\r\n") {
		assert.LessOrEqual(t, len(line), 76, "line %q", line)
	}
}

func TestRecipientAddresses(t *testing.T) {
	env := &Envelope{
		To:  mail.AddressList{"to@doe.com": ""},
		Cc:  mail.AddressList{"cc@doe.com": ""},
		Bcc: mail.AddressList{"bcc@doe.com": ""},
	}
	assert.ElementsMatch(t,
		[]string{"to@doe.com", "cc@doe.com", "bcc@doe.com"},
		recipientAddresses(env))
}

func TestFormatList(t *testing.T) {
	list := mail.AddressList{"b@doe.com": "", "a@doe.com": "A"}
	assert.Equal(t, "A <a@doe.com>, b@doe.com", formatList(list))
}
