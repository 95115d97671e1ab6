package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// AlertPublisher publishes operational alerts to a Pub/Sub topic. It
// centralizes topic handle creation the same way the storage helpers do for
// buckets.
type AlertPublisher struct {
	topic *pubsub.Topic
}

func NewAlertPublisher(ctx context.Context, projectID, topicID string) (*AlertPublisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("NewAlertPublisher: projectID and topicID cannot be empty")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return &AlertPublisher{topic: client.Topic(topicID)}, nil
}

// Publish sends one message and waits for the server acknowledgement, so the
// short-lived function invocation cannot exit before delivery.
func (p *AlertPublisher) Publish(ctx context.Context, data []byte) error {
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
