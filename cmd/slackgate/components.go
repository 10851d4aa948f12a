package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"golang.org/x/time/rate"

	"slackgate/internal/auth"
	"slackgate/internal/config"
	"slackgate/internal/consumer"
	"slackgate/internal/domain"
	"slackgate/internal/gateway"
	"slackgate/internal/metrics"
	"slackgate/internal/publish"
	"slackgate/internal/secrets"
	"slackgate/internal/slackapi"
	"slackgate/internal/store"
)

// components holds everything a process needs, built once from config.
type components struct {
	cfg    *config.Config
	logger *slog.Logger

	awsCfg *aws.Config
	secret *secrets.Cache
	codec  publish.Codec

	// closers run in reverse order on shutdown.
	closers []func() error
}

func newComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	codec, err := publish.ParseEncoding(cfg.Publish.Encoding)
	if err != nil {
		return nil, err
	}
	return &components{cfg: cfg, logger: logger, codec: codec}, nil
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Warn("shutdown step failed", "err", err)
		}
	}
}

func (c *components) awsConfig(ctx context.Context) (aws.Config, error) {
	if c.awsCfg != nil {
		return *c.awsCfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	c.awsCfg = &cfg
	return cfg, nil
}

// secretCache returns the process-wide secret cache, creating it on first use.
func (c *components) secretCache(ctx context.Context) (*secrets.Cache, error) {
	if c.secret != nil {
		return c.secret, nil
	}

	var st domain.SecretStore
	switch c.cfg.Secrets.Backend {
	case "secretsmanager", "ssm":
		awsCfg, err := c.awsConfig(ctx)
		if err != nil {
			return nil, err
		}
		if c.cfg.Secrets.Backend == "ssm" {
			st = secrets.NewParameterStore(awsCfg)
		} else {
			st = secrets.NewSecretsManagerStore(awsCfg)
		}
	case "env":
		st = secrets.EnvStore{}
	case "file":
		st = secrets.FileStore{}
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", c.cfg.Secrets.Backend)
	}

	c.secret = secrets.NewCache(secrets.CacheConfig{
		Store:    st,
		SecretID: c.cfg.Secrets.ID,
		Logger:   c.logger,
	})
	return c.secret, nil
}

// newTransport builds the publish transport. For the memory transport the bus is
// returned as well so the caller can subscribe and run it.
func (c *components) newTransport(ctx context.Context) (domain.Transport, *publish.MemoryBus, error) {
	switch c.cfg.Publish.Transport {
	case "sns":
		awsCfg, err := c.awsConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		return publish.NewSNSTransport(awsCfg), nil, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, c.cfg.Publish.GCPProject)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		t := publish.NewPubSubTransport(client)
		c.closers = append(c.closers, t.Close)
		return t, nil, nil
	case "memory":
		bus := publish.NewMemoryBus(256, c.logger)
		c.closers = append(c.closers, func() error { bus.Close(); return nil })
		return bus, bus, nil
	default:
		return nil, nil, fmt.Errorf("unknown publish transport %q", c.cfg.Publish.Transport)
	}
}

func (c *components) slackOptions() slackapi.Options {
	return slackapi.Options{
		HTTPClient: slackapi.HTTPClient(time.Duration(c.cfg.Slack.TimeoutSeconds) * time.Second),
		APIURL:     c.cfg.Slack.APIURL,
	}
}

// newGateway wires the HTTP handler around the given transport.
func (c *components) newGateway(ctx context.Context, transport domain.Transport) (*gateway.Gateway, error) {
	sec, err := c.secretCache(ctx)
	if err != nil {
		return nil, err
	}

	pub := publish.New(publish.Config{
		Transport:   transport,
		TopicPrefix: c.cfg.Publish.TopicPrefix,
		Codec:       c.codec,
		Logger:      c.logger,
	})

	opts := c.slackOptions()
	gcfg := gateway.Config{
		Secrets:   sec,
		Verifier:  auth.NewVerifier(c.cfg.ReplayWindow()),
		Publisher: pub,
		Exchanger: &slackapi.OAuthExchanger{HTTPClient: opts.HTTPClient, Options: opts},
		BasePath:  c.cfg.HTTP.BasePath,
		OAuth: gateway.OAuthConfig{
			SuccessURL:  c.cfg.OAuth.RedirectURL,
			ErrorURL:    c.cfg.OAuth.ErrorURL,
			RedirectURI: c.cfg.OAuth.RedirectURI,
			Scopes:      c.cfg.OAuth.Scopes,
			UserScopes:  c.cfg.OAuth.UserScopes,
			VerifyState: c.cfg.OAuth.VerifyState,
			StateMaxAge: time.Duration(c.cfg.OAuth.StateMaxAgeSeconds) * time.Second,
		},
		Logger: c.logger,
	}
	if c.cfg.Metrics.Enabled {
		gcfg.Metrics = metrics.Collector.Handler()
	}
	if c.cfg.Store.Path != "" {
		st, err := store.NewSQLiteStore(c.cfg.Store.Path, c.logger)
		if err != nil {
			return nil, fmt.Errorf("installation store: %w", err)
		}
		c.closers = append(c.closers, st.Close)
		gcfg.Installations = st
	}

	return gateway.New(gcfg), nil
}

// newConsumer builds an outbound consumer for one Slack method.
func (c *components) newConsumer(ctx context.Context, mode consumer.Mode) (*consumer.Consumer, error) {
	sec, err := c.secretCache(ctx)
	if err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if c.cfg.Consumer.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(c.cfg.Consumer.RatePerSecond), c.cfg.Consumer.Burst)
	}

	return consumer.New(consumer.Config{
		Secrets:     sec,
		NewClient:   slackapi.NewClientFactory(c.slackOptions()),
		Codec:       c.codec,
		Mode:        mode,
		Concurrency: c.cfg.Consumer.Concurrency,
		Timeout:     c.cfg.ConsumerTimeout(),
		Limiter:     limiter,
		Logger:      c.logger,
	}), nil
}
