package slackapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/slack-go/slack"

	"slackgate/internal/metrics"
)

const (
	maxRetries    = 3
	maxRetryAfter = 30 * time.Second
)

// WithRetry runs call, retrying only when Slack answers 429. A rate-limited
// call posted nothing, so retrying it cannot duplicate a message. Other
// errors are returned as is.
func WithRetry(ctx context.Context, logger *slog.Logger, call func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := call(ctx)
		if err == nil {
			return nil
		}

		var rl *slack.RateLimitedError
		if !errors.As(err, &rl) {
			return err
		}
		lastErr = err
		metrics.RateLimited.Inc()
		if attempt == maxRetries {
			break
		}

		wait := rl.RetryAfter
		if wait <= 0 {
			wait = time.Duration(attempt+1) * time.Second
		}
		wait = min(wait, maxRetryAfter)
		wait += time.Duration(rand.Int64N(int64(wait/4 + 1)))

		logger.Warn("slack rate limited, will retry", "attempt", attempt+1, "retry_after", wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for rate limit: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}
