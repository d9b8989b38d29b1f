package services

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// PubSubSink publishes every event as JSON to a Pub/Sub topic
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubSink connects to the project, with Application Default
// Credentials unless opts say otherwise, and checks the topic exists.
func NewPubSubSink(ctx context.Context, projectID, topicName string, opts ...option.ClientOption) (*PubSubSink, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicName)
	ok, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("check topic %q: %w", topicName, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("topic %q does not exist", topicName)
	}
	return &PubSubSink{client: client, topic: topic}, nil
}

func (s *PubSubSink) Name() string { return "pubsub" }

func (s *PubSubSink) Deliver(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":        event.Type,
			"entity_type": event.EntityType,
		},
	})
	_, err = result.Get(ctx)
	return err
}

// Close flushes pending messages and releases the client
func (s *PubSubSink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
