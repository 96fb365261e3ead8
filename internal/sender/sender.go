// Package sender drives the send/retry state machine for individual e-mail
// records: claim, envelope build, transport delivery, and the terminal
// sent/failed transitions.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/busybox42/postbox/internal/mail"
	"github.com/busybox42/postbox/internal/metrics"
	"github.com/busybox42/postbox/internal/store"
)

// Envelope is the transport-level form of an e-mail, fully resolved:
// attachments are loaded and all addressing is plaintext.
type Envelope struct {
	From        mail.Address
	To          mail.AddressList
	Cc          mail.AddressList
	Bcc         mail.AddressList
	ReplyTo     mail.AddressList
	Subject     string
	HTMLBody    string
	Attachments []EnvelopeAttachment
}

// EnvelopeAttachment is attachment content resolved at send time.
type EnvelopeAttachment struct {
	Name    string
	MIME    string
	Content []byte
}

// Transport delivers one envelope. Implementations return an error to
// signal a failed delivery; the sender records it and leaves the retry
// decision to the attempt counter.
type Transport interface {
	Deliver(ctx context.Context, env *Envelope) error
}

// AttachmentSource resolves stored attachment references into content.
// Resolution happens at send time, not compose time, so disk content must
// exist when the send runs.
type AttachmentSource interface {
	Resolve(att mail.Attachment) ([]byte, error)
}

// Sender executes the send state machine against the store.
type Sender struct {
	store     *store.Store
	transport Transport
	source    AttachmentSource
	logger    *slog.Logger

	maxAttempts int
	metrics     *metrics.Metrics
}

// New creates a sender. maxAttempts must match the store's selector bound.
func New(st *store.Store, transport Transport, source AttachmentSource, maxAttempts int) *Sender {
	if maxAttempts < 3 {
		maxAttempts = 3
	}
	return &Sender{
		store:       st,
		transport:   transport,
		source:      source,
		logger:      slog.Default().With("component", "sender"),
		maxAttempts: maxAttempts,
	}
}

// SetMetrics attaches prometheus instrumentation. Optional.
func (s *Sender) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// Send attempts delivery of one e-mail and updates its state. Calling Send
// on an already-sent record is a no-op; a record already in flight is
// skipped via the claim compare-and-swap, so overlapping cycles can never
// double-deliver. Transport failures are recorded on the row, never
// returned as delivery errors; only infrastructure errors (store failures)
// propagate.
func (s *Sender) Send(ctx context.Context, email *mail.Email) error {
	if email.IsSent() {
		return nil
	}

	claimed, err := s.store.Claim(ctx, email.ID)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Debug("e-mail already claimed, skipping", "id", email.ID)
		return nil
	}

	// Reload after the claim so attempts reflects this attempt.
	email, err = s.store.Get(ctx, email.ID)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.SendAttempts.Inc()
	}

	env, err := s.buildEnvelope(email)
	if err == nil {
		err = s.transport.Deliver(ctx, env)
	}

	if err != nil {
		return s.recordFailure(ctx, email, err)
	}

	if err := s.store.MarkSent(ctx, email.ID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.EmailsSent.Inc()
	}
	s.logger.Info("e-mail sent",
		"id", email.ID,
		"recipients", email.RecipientsString(),
		"attempts", email.Attempts)
	return nil
}

// MarkFailed records a non-transport failure (defensive path used by the
// runner when a send escapes with an error or panic).
func (s *Sender) MarkFailed(ctx context.Context, email *mail.Email, cause error) error {
	return s.recordFailure(ctx, email, cause)
}

func (s *Sender) recordFailure(ctx context.Context, email *mail.Email, cause error) error {
	// failed is a property of exhaustion, set eagerly on the final attempt
	// so the failed query sees an explicit terminal state.
	exhausted := email.Attempts >= s.maxAttempts

	if err := s.store.MarkFailed(ctx, email.ID, cause.Error(), exhausted); err != nil {
		return fmt.Errorf("recording failure of e-mail %d: %w", email.ID, err)
	}

	if exhausted && s.metrics != nil {
		s.metrics.EmailsFailed.Inc()
	}
	s.logger.Warn("e-mail delivery failed",
		"id", email.ID,
		"attempts", email.Attempts,
		"exhausted", exhausted,
		"error", cause)
	return nil
}

// buildEnvelope resolves the stored record into a deliverable envelope.
// A missing attachment fails the send and consumes the attempt.
func (s *Sender) buildEnvelope(email *mail.Email) (*Envelope, error) {
	env := &Envelope{
		From:     email.From,
		To:       email.Recipient,
		Cc:       email.Cc,
		Bcc:      email.Bcc,
		ReplyTo:  email.ReplyTo,
		Subject:  email.Subject,
		HTMLBody: email.Body,
	}

	if env.From.Empty() {
		return nil, errors.New("e-mail has no sender address")
	}
	if len(env.To) == 0 {
		return nil, errors.New("e-mail has no recipients")
	}

	for _, att := range email.Attachments {
		content, err := s.source.Resolve(att)
		if err != nil {
			return nil, fmt.Errorf("resolving attachment %q: %w", att.Path, err)
		}
		name := att.Name
		if name == "" {
			name = baseName(att.Path)
		}
		env.Attachments = append(env.Attachments, EnvelopeAttachment{
			Name:    name,
			MIME:    att.MIME,
			Content: content,
		})
	}

	return env, nil
}

// Retry creates a fresh record copying the user-facing fields of a failed
// e-mail and resetting its lifecycle fields. The original row is left
// untouched, preserving the audit trail of every attempt generation.
func (s *Sender) Retry(ctx context.Context, email *mail.Email) (*mail.Email, error) {
	fresh := &mail.Email{
		Label:       email.Label,
		Recipient:   email.Recipient,
		Cc:          email.Cc,
		Bcc:         email.Bcc,
		ReplyTo:     email.ReplyTo,
		From:        email.From,
		Subject:     email.Subject,
		View:        email.View,
		Variables:   email.Variables,
		Body:        email.Body,
		Attachments: email.Attachments,
		Encrypted:   email.Encrypted,
		ScheduledAt: email.ScheduledAt,
	}

	if err := s.store.Insert(ctx, fresh); err != nil {
		return nil, fmt.Errorf("creating retry of e-mail %d: %w", email.ID, err)
	}
	s.logger.Info("e-mail queued for retry", "original_id", email.ID, "retry_id", fresh.ID)
	return s.store.Get(ctx, fresh.ID)
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			return path[i+1:]
		}
	}
	return path
}
