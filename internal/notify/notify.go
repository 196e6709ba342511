// Package notify moves account notifications between the API and the mail
// worker over the message queue.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/accountd/apiserver/internal/mail"
	"github.com/accountd/apiserver/internal/metrics"
	"github.com/accountd/apiserver/internal/mq"
	"github.com/accountd/apiserver/types"
)

const attrKind = "kind"

// Publisher serializes notifications as JSON onto a channel.
type Publisher struct {
	backend mq.Backend
	channel string
}

func NewPublisher(backend mq.Backend, channel string) *Publisher {
	return &Publisher{backend: backend, channel: channel}
}

func (p *Publisher) Notify(ctx context.Context, n types.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	attrs := map[string]string{
		attrKind:           string(n.Kind),
		mq.AttrContentType: "application/json",
	}
	if _, err := p.backend.Publish(ctx, p.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s: %w", n.Kind, err)
	}
	return nil
}

// Consumer renders queued notifications into mails and sends them.
type Consumer struct {
	backend mq.Backend
	channel string
	mailer  mail.Mailer
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewConsumer(backend mq.Backend, channel string, mailer mail.Mailer, m *metrics.Metrics, logger *slog.Logger) *Consumer {
	return &Consumer{
		backend: backend,
		channel: channel,
		mailer:  mailer,
		metrics: m,
		logger:  logger.With("component", "notify_consumer"),
	}
}

// Run blocks until ctx is cancelled or the subscription fails.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "consuming notifications", "channel", c.channel)
	err := c.backend.Subscribe(ctx, c.channel, c.Handle)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle processes one message. Malformed payloads and unknown kinds are
// acknowledged and dropped; send failures return an error so the broker
// redelivers.
func (c *Consumer) Handle(ctx context.Context, msg mq.Message) error {
	var n types.Notification
	if err := json.Unmarshal(msg.Data, &n); err != nil {
		c.logger.WarnContext(ctx, "dropping malformed notification",
			"error", err,
			"message_id", msg.ID)
		c.metrics.Dropped.WithLabelValues("malformed").Inc()
		return nil
	}

	out, err := mail.Render(n)
	if err != nil {
		c.logger.WarnContext(ctx, "dropping notification",
			"error", err,
			"kind", n.Kind,
			"message_id", msg.ID)
		c.metrics.Dropped.WithLabelValues("unknown_kind").Inc()
		return nil
	}

	if err := c.mailer.Send(ctx, out); err != nil {
		c.logger.ErrorContext(ctx, "failed to send mail",
			"error", err,
			"kind", n.Kind,
			"user_id", n.UserID)
		c.metrics.MailsFailed.WithLabelValues(string(n.Kind)).Inc()
		return err
	}

	c.logger.InfoContext(ctx, "mail sent",
		"kind", n.Kind,
		"user_id", n.UserID)
	c.metrics.MailsSent.WithLabelValues(string(n.Kind)).Inc()
	return nil
}
