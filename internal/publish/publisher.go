// Package publish fans classified payloads out to named topics.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"slackgate/internal/domain"
	"slackgate/internal/metrics"
)

// Publisher resolves a payload's topic and hands the encoded body to a
// Transport. It does not retry; Slack redelivers webhooks that fail.
type Publisher struct {
	transport domain.Transport
	prefix    string
	codec     Codec
	logger    *slog.Logger
}

// Config configures a Publisher.
type Config struct {
	Transport   domain.Transport
	TopicPrefix string
	Codec       Codec // defaults to JSONCodec
	Logger      *slog.Logger
}

// New creates a Publisher.
func New(cfg Config) *Publisher {
	codec := cfg.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		transport: cfg.Transport,
		prefix:    cfg.TopicPrefix,
		codec:     codec,
		logger:    logger,
	}
}

// Topic returns the full topic name for payload, or "" when it is not published.
func (p *Publisher) Topic(payload domain.ClassifiedPayload) string {
	suffix := payload.TopicSuffix()
	if suffix == "" {
		return ""
	}
	return p.prefix + suffix
}

// Publish encodes payload.Body and sends it to the payload's topic.
// Any failure after classification is reported as ErrPublish.
func (p *Publisher) Publish(ctx context.Context, payload domain.ClassifiedPayload) (domain.Receipt, error) {
	topic := p.Topic(payload)
	if topic == "" {
		return domain.Receipt{}, fmt.Errorf("%w: %s payloads have no topic", domain.ErrMalformedPayload, payload.Kind)
	}

	msg, err := p.codec.Encode(payload.Body)
	if err != nil {
		metrics.PublishErrors.Inc()
		return domain.Receipt{}, fmt.Errorf("%w: encode for %s: %v", domain.ErrPublish, topic, err)
	}
	env := domain.Envelope{Topic: topic, Message: msg}

	start := time.Now()
	id, err := p.transport.Send(ctx, env.Topic, env.Message)
	metrics.Since(metrics.PublishLatency, start)
	if err != nil {
		metrics.PublishErrors.Inc()
		p.logger.Error("publish failed", "topic", topic, "err", err)
		return domain.Receipt{}, fmt.Errorf("%w: %s: %w", domain.ErrPublish, topic, err)
	}

	metrics.Publishes.Inc()
	p.logger.Info("published", "topic", topic, "kind", payload.Kind, "message_id", id, "encoding", p.codec.Name())
	return domain.Receipt{Topic: topic, MessageID: id}, nil
}
