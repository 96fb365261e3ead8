// Package mail implements the composition side of the dispatch queue: the
// durable Email record, the composer builder, validation, and the
// prepare/encrypt pipeline that runs before a record is persisted.
package mail

import (
	"context"
	"errors"
	"time"
)

// Store is the persistence surface the composer needs. The full store lives
// in internal/store; this narrow interface keeps the composer testable with
// an in-memory fake.
type Store interface {
	Insert(ctx context.Context, email *Email) error
	Get(ctx context.Context, id int64) (*Email, error)
}

// Renderer resolves a view identifier into rendered content.
type Renderer interface {
	Render(view string, variables map[string]any) (string, error)
	Exists(view string) bool
}

// Crypter transforms sensitive field values to and from their at-rest form.
type Crypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Dispatcher hands a persisted e-mail off to an asynchronous delivery path.
type Dispatcher interface {
	Enqueue(ctx context.Context, emailID int64, delay time.Duration) error
}

// Options carries the composer-relevant configuration.
type Options struct {
	// DefaultFrom is used when neither the composer nor the structured
	// message supplies a sender identity.
	DefaultFrom Address

	// Encrypt enables field encryption at rest for newly created records.
	Encrypt bool

	// TestingEnabled redirects every recipient to TestingEmail and empties
	// cc/bcc before persistence. Applied after validation so malformed
	// input is still rejected.
	TestingEnabled bool
	TestingEmail   string

	// SendImmediately sends synchronously right after the record persists
	// instead of leaving it for the queue runner.
	SendImmediately bool
}

// ErrMissingSender is returned when a structured message resolves without a
// sender identity and no default is configured.
var ErrMissingSender = errors.New("mail: no sender address resolved")

// Mailer creates composers bound to a store, renderer, and configuration.
type Mailer struct {
	store    Store
	renderer Renderer
	crypter  Crypter
	opts     Options

	// Dispatch is consulted by Composer.Queue. Optional.
	Dispatch Dispatcher

	// SendNow is invoked after persist when SendImmediately is set.
	// Optional; wired to the sender by the caller to avoid a package cycle.
	SendNow func(ctx context.Context, email *Email) error

	now func() time.Time
}

// NewMailer returns a mailer. The crypter may be nil when encryption is
// disabled.
func NewMailer(store Store, renderer Renderer, crypter Crypter, opts Options) *Mailer {
	return &Mailer{
		store:    store,
		renderer: renderer,
		crypter:  crypter,
		opts:     opts,
		now:      time.Now,
	}
}

// Compose starts building a new e-mail.
func (m *Mailer) Compose() *Composer {
	return &Composer{mailer: m}
}
