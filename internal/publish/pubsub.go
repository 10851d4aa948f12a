package publish

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// PubSubTransport publishes to Google Cloud Pub/Sub. Topic handles are
// created on first use and kept for the life of the transport.
type PubSubTransport struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSubTransport wraps an existing client.
func NewPubSubTransport(client *pubsub.Client) *PubSubTransport {
	return &PubSubTransport{client: client, topics: make(map[string]*pubsub.Topic)}
}

func (t *PubSubTransport) topic(name string) *pubsub.Topic {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tp, ok := t.topics[name]; ok {
		return tp
	}
	tp := t.client.Topic(name)
	t.topics[name] = tp
	return tp
}

func (t *PubSubTransport) Send(ctx context.Context, topic string, message []byte) (string, error) {
	res := t.topic(topic).Publish(ctx, &pubsub.Message{Data: message})
	id, err := res.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("pubsub publish %s: %w", topic, err)
	}
	return id, nil
}

// Close flushes pending messages on every topic handle and closes the client.
func (t *PubSubTransport) Close() error {
	t.mu.Lock()
	for _, tp := range t.topics {
		tp.Stop()
	}
	t.topics = make(map[string]*pubsub.Topic)
	t.mu.Unlock()
	return t.client.Close()
}
