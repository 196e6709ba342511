package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/accountd/apiserver/internal/logging"
	"github.com/accountd/apiserver/internal/mail"
	"github.com/accountd/apiserver/internal/metrics"
	"github.com/accountd/apiserver/internal/mq"
	"github.com/accountd/apiserver/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	channel string
	data    []byte
	attrs   map[string]string
}

// loopback delivers every published message to the active subscriber.
type loopback struct {
	mu         sync.Mutex
	published  []published
	publishErr error
	queued     []mq.Message
	results    []error
}

func (b *loopback) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return "", b.publishErr
	}
	b.published = append(b.published, published{channel: channel, data: data, attrs: attrs})
	b.queued = append(b.queued, mq.Message{ID: uuid.NewString(), Data: data, Attributes: attrs})
	return "id", nil
}

func (b *loopback) Subscribe(ctx context.Context, _ string, handler mq.Handler) error {
	b.mu.Lock()
	queued := b.queued
	b.queued = nil
	b.mu.Unlock()
	for _, msg := range queued {
		err := handler(ctx, msg)
		b.mu.Lock()
		b.results = append(b.results, err)
		b.mu.Unlock()
	}
	return ctx.Err()
}

func (b *loopback) Close() error { return nil }

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func TestPublisherEncodesJSON(t *testing.T) {
	backend := &loopback{}
	p := NewPublisher(backend, "user-notifications")
	n := types.Notification{Kind: types.NotificationUserCreated, UserID: uuid.New(), Email: "a@x.com"}

	require.NoError(t, p.Notify(context.Background(), n))

	require.Len(t, backend.published, 1)
	got := backend.published[0]
	assert.Equal(t, "user-notifications", got.channel)
	assert.Equal(t, "user.created", got.attrs["kind"])
	assert.Equal(t, "application/json", got.attrs[mq.AttrContentType])

	var decoded types.Notification
	require.NoError(t, json.Unmarshal(got.data, &decoded))
	assert.Equal(t, n.UserID, decoded.UserID)
}

func TestPublisherWrapsBackendError(t *testing.T) {
	backend := &loopback{publishErr: errors.New("connection reset")}
	err := NewPublisher(backend, "c").Notify(context.Background(), types.Notification{Kind: types.NotificationUserCreated})
	assert.ErrorContains(t, err, "connection reset")
}

func TestConsumerSendsRenderedMail(t *testing.T) {
	backend := &loopback{}
	mailer := &recordingMailer{}
	m := metrics.New()
	c := NewConsumer(backend, "c", mailer, m, logging.Discard())

	require.NoError(t, NewPublisher(backend, "c").Notify(context.Background(), types.Notification{
		Kind:  types.NotificationUserCreated,
		Email: "a@x.com",
		Name:  "Alice",
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, c.Run(ctx))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "a@x.com", mailer.sent[0].To)
	assert.Equal(t, []error{nil}, backend.results)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MailsSent.WithLabelValues("user.created")))
}

func TestConsumerDropsUnknownAndMalformed(t *testing.T) {
	mailer := &recordingMailer{}
	m := metrics.New()
	c := NewConsumer(&loopback{}, "c", mailer, m, logging.Discard())
	ctx := context.Background()

	assert.NoError(t, c.Handle(ctx, mq.Message{Data: []byte("{not json")}))
	assert.NoError(t, c.Handle(ctx, mq.Message{Data: []byte(`{"kind":"user.exploded","email":"a@x.com"}`)}))

	assert.Empty(t, mailer.sent)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Dropped.WithLabelValues("unknown_kind")))
}

func TestConsumerSendFailureRequestsRedelivery(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp 421")}
	m := metrics.New()
	c := NewConsumer(&loopback{}, "c", mailer, m, logging.Discard())

	err := c.Handle(context.Background(), mq.Message{
		Data: []byte(`{"kind":"user.password_changed","email":"a@x.com"}`),
	})
	assert.ErrorContains(t, err, "smtp 421")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MailsFailed.WithLabelValues("user.password_changed")))
}
