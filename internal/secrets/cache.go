// Package secrets loads the Slack secret bundle once per process and hands
// the memoized copy to every caller.
package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"slackgate/internal/domain"
	"slackgate/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes the secret bundle for the lifetime of the process.
// Concurrent misses share a single store fetch. Failed fetches are not
// cached, so the next caller retries. There is no TTL and no refresh: a
// rotated secret needs a process restart.
type Cache struct {
	store  domain.SecretStore
	id     string
	logger *slog.Logger

	bundle atomic.Pointer[domain.SecretBundle]
	group  singleflight.Group
}

// FetchTimeout bounds a single store fetch.
const FetchTimeout = 30 * time.Second

// CacheConfig configures a Cache.
type CacheConfig struct {
	Store    domain.SecretStore
	SecretID string
	Logger   *slog.Logger
}

// NewCache creates an empty cache. Nothing is fetched until the first Get.
func NewCache(cfg CacheConfig) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  cfg.Store,
		id:     cfg.SecretID,
		logger: logger,
	}
}

// Get returns the secret bundle, fetching it on first use. The shared fetch
// does not inherit the caller's cancellation; a caller whose ctx ends stops
// waiting while the fetch continues for the others.
func (c *Cache) Get(ctx context.Context) (domain.SecretBundle, error) {
	if b := c.bundle.Load(); b != nil {
		return *b, nil
	}

	ch := c.group.DoChan(c.id, func() (any, error) {
		// Another caller may have stored the bundle between Load and DoChan.
		if b := c.bundle.Load(); b != nil {
			return b, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FetchTimeout)
		defer cancel()
		b, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		c.bundle.Store(b)
		return b, nil
	})

	select {
	case <-ctx.Done():
		return domain.SecretBundle{}, fmt.Errorf("%w: %w", domain.ErrSecretUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.SecretBundle{}, res.Err
		}
		if res.Shared {
			c.logger.Debug("secret fetch shared with concurrent caller", "secret_id", c.id)
		}
		return *res.Val.(*domain.SecretBundle), nil
	}
}

// Loaded reports whether the bundle has been fetched.
func (c *Cache) Loaded() bool {
	return c.bundle.Load() != nil
}

func (c *Cache) fetch(ctx context.Context) (*domain.SecretBundle, error) {
	if c.store == nil {
		return nil, fmt.Errorf("%w: no secret store configured", domain.ErrSecretUnavailable)
	}

	c.logger.Info("fetching secrets", "secret_id", c.id)
	metrics.SecretFetches.Inc()

	raw, err := c.store.Fetch(ctx, c.id)
	if err != nil {
		c.logger.Error("secret fetch failed", "secret_id", c.id, "err", err)
		return nil, fmt.Errorf("%w: fetch %s: %v", domain.ErrSecretUnavailable, c.id, err)
	}

	var b domain.SecretBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		c.logger.Error("secret document is not valid JSON", "secret_id", c.id)
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrSecretUnavailable, c.id, err)
	}

	c.logger.Info("secrets received", "secret_id", c.id)
	return &b, nil
}
