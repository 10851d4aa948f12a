package domain

import "context"

// Transport delivers an encoded message to a named topic. Implementations
// return the transport's message id.
type Transport interface {
	Send(ctx context.Context, topic string, message []byte) (string, error)
}

// Envelope is what the publisher hands to a Transport.
type Envelope struct {
	Topic   string
	Message []byte
}

// Receipt acknowledges a successful publish.
type Receipt struct {
	Topic     string
	MessageID string
}
