package sender

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/busybox42/postbox/internal/mail"
)

// SMTPConfig configures the relay transport.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

// SMTPTransport delivers envelopes through a fixed SMTP relay. Deliveries
// run behind a circuit breaker so a dead relay fails cycles fast instead of
// burning the full timeout on every record.
type SMTPTransport struct {
	config  SMTPConfig
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewSMTPTransport creates the relay transport.
func NewSMTPTransport(config SMTPConfig) *SMTPTransport {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Port == 0 {
		config.Port = 25
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "smtp-transport",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &SMTPTransport{
		config:  config,
		breaker: breaker,
		logger:  slog.Default().With("component", "smtp-transport"),
	}
}

// Deliver sends the envelope to all recipients, including cc and bcc.
func (t *SMTPTransport) Deliver(ctx context.Context, env *Envelope) error {
	_, err := t.breaker.Execute(func() (any, error) {
		return nil, t.deliver(ctx, env)
	})
	return err
}

func (t *SMTPTransport) deliver(ctx context.Context, env *Envelope) error {
	addr := net.JoinHostPort(t.config.Host, strconv.Itoa(t.config.Port))

	dialer := &net.Dialer{Timeout: t.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	// One deadline covers the whole SMTP conversation.
	_ = conn.SetDeadline(time.Now().Add(t.config.Timeout))

	client, err := smtp.NewClient(conn, t.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTP handshake with %s: %w", addr, err)
	}
	defer func() { _ = client.Close() }()

	if t.config.Username != "" {
		auth := smtp.PlainAuth("", t.config.Username, t.config.Password, t.config.Host)
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(auth); err != nil {
				return fmt.Errorf("SMTP auth: %w", err)
			}
		}
	}

	if err := client.Mail(env.From.Address); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}

	for _, rcpt := range recipientAddresses(env) {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO failed for %s: %w", rcpt, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := writer.Write(buildMIME(env)); err != nil {
		return fmt.Errorf("writing message data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing data writer: %w", err)
	}

	if err := client.Quit(); err != nil {
		t.logger.Warn("QUIT command failed", "error", err)
	}

	return nil
}

// recipientAddresses flattens to, cc, and bcc into the RCPT list.
func recipientAddresses(env *Envelope) []string {
	var out []string
	for _, list := range []mail.AddressList{env.To, env.Cc, env.Bcc} {
		out = append(out, list.Addresses()...)
	}
	return out
}

const mimeBoundary = "postbox-mixed-boundary"

// buildMIME renders the envelope as a MIME message. Bcc recipients go on
// the wire via RCPT only, never into headers.
func buildMIME(env *Envelope) []byte {
	var buf bytes.Buffer

	writeHeader := func(key, value string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", key, value)
	}

	writeHeader("From", formatAddress(env.From))
	writeHeader("To", formatList(env.To))
	if len(env.Cc) > 0 {
		writeHeader("Cc", formatList(env.Cc))
	}
	if len(env.ReplyTo) > 0 {
		writeHeader("Reply-To", formatList(env.ReplyTo))
	}
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", env.Subject))
	writeHeader("Date", time.Now().UTC().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")

	if len(env.Attachments) == 0 {
		writeHeader("Content-Type", `text/html; charset="utf-8"`)
		buf.WriteString("\r\n")
		buf.WriteString(env.HTMLBody)
		buf.WriteString("\r\n")
		return buf.Bytes()
	}

	writeHeader("Content-Type", fmt.Sprintf(`multipart/mixed; boundary="%s"`, mimeBoundary))
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", mimeBoundary)
	buf.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	buf.WriteString(env.HTMLBody)
	buf.WriteString("\r\n")

	for _, att := range env.Attachments {
		contentType := att.MIME
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		fmt.Fprintf(&buf, "--%s\r\n", mimeBoundary)
		fmt.Fprintf(&buf, "Content-Type: %s\r\n", contentType)
		buf.WriteString("Content-Transfer-Encoding: base64\r\n")
		fmt.Fprintf(&buf, "Content-Disposition: attachment; filename=%q\r\n\r\n", att.Name)

		encoded := base64.StdEncoding.EncodeToString(att.Content)
		for len(encoded) > 76 {
			buf.WriteString(encoded[:76])
			buf.WriteString("\r\n")
			encoded = encoded[76:]
		}
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}
	fmt.Fprintf(&buf, "--%s--\r\n", mimeBoundary)

	return buf.Bytes()
}

func formatAddress(a mail.Address) string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", a.Name), a.Address)
}

func formatList(list mail.AddressList) string {
	parts := make([]string, 0, len(list))
	for _, addr := range list.Addresses() {
		parts = append(parts, formatAddress(mail.Address{Address: addr, Name: list[addr]}))
	}
	return strings.Join(parts, ", ")
}
