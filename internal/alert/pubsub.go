package alert

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// publishResult is satisfied by *pubsub.PublishResult.
type publishResult interface {
	Get(ctx context.Context) (string, error)
}

// publisher abstracts a topic so tests can avoid the emulator.
type publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
}

type topicPublisher struct {
	topic *pubsub.Topic
}

func (t topicPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return t.topic.Publish(ctx, msg)
}

// PubSubNotifier publishes alerts as JSON messages on a topic.
type PubSubNotifier struct {
	publisher publisher
	stop      func()
}

// NewPubSub creates a client for project and publishes to topicID.
func NewPubSub(ctx context.Context, project, topicID string) (*PubSubNotifier, error) {
	if project == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub alert sink requires project and topic")
	}
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	return &PubSubNotifier{
		publisher: topicPublisher{topic: topic},
		stop: func() {
			topic.Stop()
			_ = client.Close()
		},
	}, nil
}

// Name implements Notifier.
func (p *PubSubNotifier) Name() string { return "pubsub" }

// Notify implements Notifier and waits for the server ack.
func (p *PubSubNotifier) Notify(ctx context.Context, a Alert) error {
	if p.publisher == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"level": string(a.Level),
			"stage": a.Stage,
		},
	}
	if _, err := p.publisher.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubNotifier) Close() {
	if p != nil && p.stop != nil {
		p.stop()
	}
}
