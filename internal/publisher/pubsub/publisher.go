// Package pubsub publishes events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

type keyed interface {
	PartitionKey() string
}

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type gcpTopic struct{ *pubsub.Topic }

func (t gcpTopic) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return t.Topic.Publish(ctx, msg)
}

// Publisher wraps a Pub/Sub topic handle.
type Publisher struct {
	topic  topic
	client *pubsub.Client
}

// New connects to projectID and resolves topicID.
func New(ctx context.Context, projectID, topicID string) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	t := client.Topic(topicID)
	t.EnableMessageOrdering = true
	return &Publisher{topic: gcpTopic{t}, client: client}, nil
}

// Publish marshals payload to JSON and waits for the server-assigned ID. The
// topic argument is ignored; the handle is bound at construction. Payloads
// with a partition key are published with that ordering key.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{Data: data}
	if k, ok := payload.(keyed); ok {
		msg.OrderingKey = k.PartitionKey()
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
