// Package consumer replays fanned-out batches as Slack chat.postMessage or
// chat.postEphemeral calls.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"slackgate/internal/domain"
	"slackgate/internal/metrics"
	"slackgate/internal/publish"
	"slackgate/internal/slackapi"
)

// Mode selects the Slack method each record is replayed with.
type Mode int

const (
	PostMessage Mode = iota
	PostEphemeral
)

func (m Mode) String() string {
	if m == PostEphemeral {
		return "chat.postEphemeral"
	}
	return "chat.postMessage"
}

const (
	DefaultConcurrency = 8
	DefaultTimeout     = 10 * time.Second
)

// Config configures a Consumer.
type Config struct {
	Secrets     domain.SecretSource
	NewClient   slackapi.ClientFactory
	Codec       publish.Codec // defaults to JSON
	Mode        Mode
	Concurrency int           // defaults to DefaultConcurrency
	Timeout     time.Duration // per call, defaults to DefaultTimeout
	Limiter     *rate.Limiter // optional, shared by all calls
	Logger      *slog.Logger
}

// Consumer delivers batches concurrently. Every record is attempted even
// when others fail, and nothing already posted is rolled back.
type Consumer struct {
	secrets     domain.SecretSource
	newClient   slackapi.ClientFactory
	codec       publish.Codec
	mode        Mode
	concurrency int
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *slog.Logger

	mu     sync.Mutex
	token  string
	client slackapi.Messenger
}

// New creates a Consumer.
func New(cfg Config) *Consumer {
	c := &Consumer{
		secrets:     cfg.Secrets,
		newClient:   cfg.NewClient,
		codec:       cfg.Codec,
		mode:        cfg.Mode,
		concurrency: cfg.Concurrency,
		timeout:     cfg.Timeout,
		limiter:     cfg.Limiter,
		logger:      cfg.Logger,
	}
	if c.codec == nil {
		c.codec = publish.JSONCodec{}
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.newClient == nil {
		c.newClient = slackapi.NewClientFactory(slackapi.Options{})
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("mode", c.mode.String())
	return c
}

// Result is the outcome of one record.
type Result struct {
	Index int
	ID    string
	TS    string // timestamp returned by Slack
	Err   error
}

// Report holds one Result per record, in batch order.
type Report struct {
	Results []Result
}

// Failed returns the number of failed records.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Err returns nil when every record was delivered, otherwise a
// *domain.PartialDeliveryFailure for the first failure in batch order.
func (r Report) Err() error {
	for _, res := range r.Results {
		if res.Err != nil {
			return &domain.PartialDeliveryFailure{
				Index:  res.Index,
				Failed: r.Failed(),
				Total:  len(r.Results),
				Err:    res.Err,
			}
		}
	}
	return nil
}

// Deliver replays every record of batch and waits for all of them.
func (c *Consumer) Deliver(ctx context.Context, batch domain.Batch) Report {
	report := Report{Results: make([]Result, len(batch))}
	for i, rec := range batch {
		report.Results[i] = Result{Index: i, ID: rec.ID}
	}
	if len(batch) == 0 {
		return report
	}

	client, err := c.clientFor(ctx)
	if err != nil {
		c.logger.Error("cannot deliver batch", "records", len(batch), "err", err)
		for i := range report.Results {
			report.Results[i].Err = err
		}
		metrics.DeliveryFailures.Add(int64(len(batch)))
		return report
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, rec := range batch {
		g.Go(func() error {
			ts, err := c.deliverOne(ctx, client, rec)
			report.Results[i].TS = ts
			report.Results[i].Err = err
			return nil
		})
	}
	_ = g.Wait()

	failed := report.Failed()
	metrics.Deliveries.Add(int64(len(batch) - failed))
	metrics.DeliveryFailures.Add(int64(failed))
	if failed > 0 {
		c.logger.Warn("batch partially delivered", "records", len(batch), "failed", failed)
	} else {
		c.logger.Info("batch delivered", "records", len(batch))
	}
	return report
}

func (c *Consumer) clientFor(ctx context.Context) (slackapi.Messenger, error) {
	secrets, err := c.secrets.Get(ctx)
	if err != nil {
		return nil, err
	}
	if secrets.BotToken == "" {
		return nil, fmt.Errorf("%w: bot token is empty", domain.ErrSecretUnavailable)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || c.token != secrets.BotToken {
		c.client = c.newClient(secrets.BotToken)
		c.token = secrets.BotToken
	}
	return c.client, nil
}

func (c *Consumer) deliverOne(ctx context.Context, client slackapi.Messenger, rec domain.Record) (string, error) {
	logger := c.logger.With("record", rec.ID)

	body, err := c.codec.Decode(rec.Message)
	if err != nil {
		logger.Error("cannot decode record", "err", err)
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	msg, err := slackapi.ParseOutbound(body)
	if err != nil {
		logger.Error("record is not a message", "err", err)
		return "", err
	}
	if len(msg.Unsupported) > 0 {
		logger.Warn("message fields not forwarded", "fields", msg.Unsupported)
	}
	if err := msg.Validate(c.mode == PostEphemeral); err != nil {
		logger.Error("invalid message", "err", err)
		return "", err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	var ts string
	start := time.Now()
	err = slackapi.WithRetry(ctx, logger, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		var err error
		switch c.mode {
		case PostEphemeral:
			ts, err = client.PostEphemeralContext(callCtx, msg.Channel, msg.User, msg.MsgOptions()...)
		default:
			_, ts, err = client.PostMessageContext(callCtx, msg.Channel, msg.MsgOptions()...)
		}
		return err
	})
	metrics.Since(metrics.DeliveryLatency, start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			logger.Error("slack call timed out", "channel", msg.Channel, "timeout", c.timeout)
		} else {
			logger.Error("slack call failed", "channel", msg.Channel, "err", err)
		}
		return "", fmt.Errorf("%s %s: %w", c.mode, msg.Channel, err)
	}
	logger.Debug("delivered", "channel", msg.Channel, "ts", ts)
	return ts, nil
}

// MemoryHandler delivers messages from a publish.MemoryBus subscription,
// one record per batch.
func (c *Consumer) MemoryHandler() publish.MemoryHandler {
	return func(ctx context.Context, rec domain.Record, topic string) {
		if err := c.Deliver(ctx, domain.Batch{rec}).Err(); err != nil {
			c.logger.Error("local delivery failed", "topic", topic, "err", err)
		}
	}
}
