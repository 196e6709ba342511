package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/accountd/apiserver/config"
	"google.golang.org/api/option"
)

const (
	deadLetterSuffix       = "-dead-letter"
	defaultDeliveryAttempt = 5
	pubsubAckDeadline      = 60 * time.Second
	pubsubMinBackoff       = 10 * time.Second
	pubsubMaxBackoff       = 10 * time.Minute
)

// PubSubClient wraps the Google Cloud Pub/Sub SDK client. Subscriptions it
// creates forward a message to "<channel>-dead-letter" after
// maxDeliveryAttempts failed deliveries.
type PubSubClient struct {
	client              *pubsub.Client
	subscriptionSuffix  string
	maxDeliveryAttempts int
}

// NewPubSubClient constructs a Pub/Sub client from config.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}

	suffix := cfg.SubscriptionSuffix
	if suffix == "" {
		suffix = "-sub"
	}
	attempts := cfg.MaxDeliveryAttempts
	if attempts <= 0 {
		attempts = defaultDeliveryAttempt
	}

	return &PubSubClient{
		client:              client,
		subscriptionSuffix:  suffix,
		maxDeliveryAttempts: attempts,
	}, nil
}

// Publish sends a message to the named topic. Pub/Sub has no content-type
// field, so AttrContentType is not forwarded.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return "", err
	}
	result := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: publishAttributes(attrs)})
	return result.Get(ctx)
}

// Subscribe consumes messages from the named channel. A failed message is
// nacked for redelivery until its last allowed attempt, then acked.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}

	topic, err := p.ensureTopic(ctx, channel)
	if err != nil {
		return err
	}

	sub, err := p.ensureSubscription(ctx, channel, topic)
	if err != nil {
		return err
	}

	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		message := Message{
			ID:         msg.ID,
			Data:       msg.Data,
			Attributes: msg.Attributes,
		}
		err := handler(ctx, message)
		if settleAck(err, msg.DeliveryAttempt, p.maxDeliveryAttempts) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the underlying Pub/Sub client.
func (p *PubSubClient) Close() error {
	return p.client.Close()
}

func (p *PubSubClient) ensureTopic(ctx context.Context, name string) (*pubsub.Topic, error) {
	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return p.client.CreateTopic(ctx, name)
	}
	return topic, nil
}

func (p *PubSubClient) ensureSubscription(ctx context.Context, channel string, topic *pubsub.Topic) (*pubsub.Subscription, error) {
	sub := p.client.Subscription(p.subscriptionName(channel))
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return sub, nil
	}

	deadLetter, err := p.ensureTopic(ctx, channel+deadLetterSuffix)
	if err != nil {
		return nil, fmt.Errorf("ensure dead letter topic: %w", err)
	}
	return p.client.CreateSubscription(ctx, sub.ID(), subscriptionConfig(topic, deadLetter.String(), p.maxDeliveryAttempts))
}

func (p *PubSubClient) subscriptionName(channel string) string {
	if p.subscriptionSuffix == "" {
		return channel
	}
	return channel + p.subscriptionSuffix
}

func subscriptionConfig(topic *pubsub.Topic, deadLetterTopic string, maxAttempts int) pubsub.SubscriptionConfig {
	return pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: pubsubAckDeadline,
		RetryPolicy: &pubsub.RetryPolicy{
			MinimumBackoff: pubsubMinBackoff,
			MaximumBackoff: pubsubMaxBackoff,
		},
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     deadLetterTopic,
			MaxDeliveryAttempts: maxAttempts,
		},
	}
}

// settleAck reports whether a delivery should be acked. Successes are acked.
// Failures are nacked unless attempt has reached maxAttempts. attempt is nil
// when the subscription has no dead letter policy, and then failures are
// always nacked.
func settleAck(err error, attempt *int, maxAttempts int) bool {
	if err == nil {
		return true
	}
	return attempt != nil && *attempt >= maxAttempts
}

func publishAttributes(attrs map[string]string) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if k == AttrContentType {
			continue
		}
		out[k] = v
	}
	return out
}
