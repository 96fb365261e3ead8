package sender

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busybox42/postbox/internal/mail"
	"github.com/busybox42/postbox/internal/store"
)

// fakeTransport records deliveries and can be scripted to fail.
type fakeTransport struct {
	delivered []*Envelope
	err       error
}

func (t *fakeTransport) Deliver(ctx context.Context, env *Envelope) error {
	if t.err != nil {
		return t.err
	}
	t.delivered = append(t.delivered, env)
	return nil
}

// fakeSource resolves attachments from an in-memory map.
type fakeSource struct {
	files map[string][]byte
}

func (s *fakeSource) Resolve(att mail.Attachment) ([]byte, error) {
	content, ok := s.files[att.Path]
	if !ok {
		return nil, errors.New("attachment not found")
	}
	return content, nil
}

func newTestSender(t *testing.T, maxAttempts int) (*Sender, *store.Store, *fakeTransport) {
	t.Helper()

	db, err := store.Open("sqlite", filepath.Join(t.TempDir(), "test.db"), store.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db, "sqlite", store.Options{MaxAttempts: maxAttempts}, nil)
	require.NoError(t, st.Migrate(context.Background()))

	transport := &fakeTransport{}
	source := &fakeSource{files: map[string][]byte{"invoice.pdf": []byte("%PDF-")}}
	return New(st, transport, source, maxAttempts), st, transport
}

func queueEmail(t *testing.T, st *store.Store) *mail.Email {
	t.Helper()
	email := &mail.Email{
		Recipient: mail.AddressList{"john@doe.com": "John"},
		From:      mail.Address{Address: "sender@example.com"},
		Subject:   "Hello",
		Body:      "<p>Hello</p>",
	}
	require.NoError(t, st.Insert(context.Background(), email))
	return email
}

func TestSendSuccess(t *testing.T) {
	snd, st, transport := newTestSender(t, 3)
	ctx := context.Background()

	email := queueEmail(t, st)
	require.NoError(t, snd.Send(ctx, email))

	require.Len(t, transport.delivered, 1)
	env := transport.delivered[0]
	assert.Equal(t, "sender@example.com", env.From.Address)
	assert.Equal(t, mail.AddressList{"john@doe.com": "John"}, env.To)
	assert.Equal(t, "Hello", env.Subject)

	got, err := st.Get(ctx, email.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSent())
	assert.False(t, got.Sending)
	assert.Equal(t, 1, got.Attempts)
}

func TestSendIsIdempotent(t *testing.T) {
	snd, st, transport := newTestSender(t, 3)
	ctx := context.Background()

	email := queueEmail(t, st)
	require.NoError(t, snd.Send(ctx, email))

	// Sending the terminal record again delivers nothing.
	got, err := st.Get(ctx, email.ID)
	require.NoError(t, err)
	require.NoError(t, snd.Send(ctx, got))

	assert.Len(t, transport.delivered, 1)
	got, err = st.Get(ctx, email.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
}

func TestSendSkipsClaimedRecord(t *testing.T) {
	snd, st, transport := newTestSender(t, 3)
	ctx := context.Background()

	email := queueEmail(t, st)
	ok, err := st.Claim(ctx, email.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// The in-flight record loses the compare-and-swap; no delivery.
	require.NoError(t, snd.Send(ctx, email))
	assert.Empty(t, transport.delivered)
}

func TestSendFailureKeepsRecordPending(t *testing.T) {
	snd, st, transport := newTestSender(t, 3)
	ctx := context.Background()
	transport.err = errors.New("connection refused")

	email := queueEmail(t, st)
	require.NoError(t, snd.Send(ctx, email))

	got, err := st.Get(ctx, email.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSent())
	assert.False(t, got.Failed)
	assert.False(t, got.Sending)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.Error, "connection refused")

	// Still eligible for the next cycle.
	queue, err := st.GetQueue(ctx)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, email.ID, queue[0].ID)
}

func TestSendExhaustionSetsFailed(t *testing.T) {
	snd, st, transport := newTestSender(t, 3)
	ctx := context.Background()
	transport.err = errors.New("connection refused")

	email := queueEmail(t, st)
	for i := 0; i < 3; i++ {
		got, err := st.Get(ctx, email.ID)
		require.NoError(t, err)
		require.NoError(t, snd.Send(ctx, got))
	}

	got, err := st.Get(ctx, email.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
	assert.True(t, got.Failed)

	// The exhausted record left the queue.
	queue, err := st.GetQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)
}

func TestSendRecoversAfterTransientFailures(t *testing.T) {
	snd, st, transport := newTestSender(t, 3)
	ctx := context.Background()

	email := queueEmail(t, st)

	transport.err = errors.New("timeout")
	require.NoError(t, snd.Send(ctx, email))

	transport.err = nil
	got, err := st.Get(ctx, email.ID)
	require.NoError(t, err)
	require.NoError(t, snd.Send(ctx, got))

	got, err = st.Get(ctx, email.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSent())
	assert.False(t, got.Failed)
	assert.Empty(t, got.Error)
	assert.Equal(t, 2, got.Attempts)
}

func TestSendResolvesAttachments(t *testing.T) {
	snd, st, transport := newTestSender(t, 3)
	ctx := context.Background()

	email := &mail.Email{
		Recipient:   mail.AddressList{"john@doe.com": ""},
		From:        mail.Address{Address: "sender@example.com"},
		Subject:     "Hello",
		Body:        "<p>Hello</p>",
		Attachments: []mail.Attachment{{Path: "invoice.pdf", MIME: "application/pdf"}},
	}
	require.NoError(t, st.Insert(ctx, email))

	require.NoError(t, snd.Send(ctx, email))
	require.Len(t, transport.delivered, 1)
	require.Len(t, transport.delivered[0].Attachments, 1)
	att := transport.delivered[0].Attachments[0]
	assert.Equal(t, "invoice.pdf", att.Name)
	assert.Equal(t, "application/pdf", att.MIME)
	assert.Equal(t, []byte("%PDF-"), att.Content)
}

func TestSendMissingAttachmentConsumesAttempt(t *testing.T) {
	snd, st, transport := newTestSender(t, 3)
	ctx := context.Background()

	email := &mail.Email{
		Recipient:   mail.AddressList{"john@doe.com": ""},
		From:        mail.Address{Address: "sender@example.com"},
		Subject:     "Hello",
		Body:        "<p>Hello</p>",
		Attachments: []mail.Attachment{{Path: "gone.pdf"}},
	}
	require.NoError(t, st.Insert(ctx, email))

	require.NoError(t, snd.Send(ctx, email))
	assert.Empty(t, transport.delivered)

	got, err := st.Get(ctx, email.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Contains(t, got.Error, "gone.pdf")
}

func TestRetryCreatesFreshRecord(t *testing.T) {
	snd, st, transport := newTestSender(t, 3)
	ctx := context.Background()
	transport.err = errors.New("boom")

	email := queueEmail(t, st)
	for i := 0; i < 3; i++ {
		got, err := st.Get(ctx, email.ID)
		require.NoError(t, err)
		require.NoError(t, snd.Send(ctx, got))
	}

	failed, err := st.GetFailed(ctx, email.ID)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	fresh, err := snd.Retry(ctx, failed[0])
	require.NoError(t, err)

	assert.NotEqual(t, email.ID, fresh.ID)
	assert.Equal(t, failed[0].Recipient, fresh.Recipient)
	assert.Equal(t, failed[0].Subject, fresh.Subject)
	assert.Equal(t, failed[0].Body, fresh.Body)

	// Lifecycle fields start over.
	assert.Equal(t, 0, fresh.Attempts)
	assert.False(t, fresh.Failed)
	assert.Empty(t, fresh.Error)
	assert.Nil(t, fresh.SentAt)

	// The original stays failed for the audit trail.
	original, err := st.Get(ctx, email.ID)
	require.NoError(t, err)
	assert.True(t, original.Failed)

	// And the fresh record is deliverable.
	transport.err = nil
	require.NoError(t, snd.Send(ctx, fresh))
	got, err := st.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSent())
}

func TestDiskSource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "local"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "local", "doc.txt"), []byte("hello"), 0o644))

	source := NewDiskSource(root)

	content, err := source.Resolve(mail.Attachment{Path: "doc.txt", Disk: "local"})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), content)

	_, err = source.Resolve(mail.Attachment{Path: "missing.txt", Disk: "local"})
	assert.Error(t, err)

	_, err = source.Resolve(mail.Attachment{Path: "../../etc/passwd", Disk: "local"})
	assert.Error(t, err)
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "doc.pdf", baseName("doc.pdf"))
	assert.Equal(t, "doc.pdf", baseName("reports/2026/doc.pdf"))
	assert.Equal(t, "doc.pdf", baseName(`reports\doc.pdf`))
}
