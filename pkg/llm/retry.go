package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryingClient wraps a Client with exponential backoff on retryable
// failures. Malformed responses and context cancellation pass through
// immediately. Persistent failure after the attempt budget is returned to
// the voter, which records the sample as lost (the vote itself survives).
type RetryingClient struct {
	inner       Client
	maxAttempts int
	baseDelay   time.Duration
}

// NewRetrying wraps inner with up to maxAttempts attempts (first try
// included) and exponential backoff starting at baseDelay.
func NewRetrying(inner Client, maxAttempts int, baseDelay time.Duration) *RetryingClient {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &RetryingClient{inner: inner, maxAttempts: maxAttempts, baseDelay: baseDelay}
}

// Complete attempts the call, retrying on retryable transport failures.
func (c *RetryingClient) Complete(ctx context.Context, req Request) (Response, error) {
	var resp Response

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseDelay
	policy.RandomizationFactor = 0 // deterministic retry timing

	attempt := 0
	op := func() error {
		attempt++
		var err error
		resp, err = c.inner.Complete(ctx, req)
		if err == nil {
			return nil
		}

		var lerr *Error
		if errors.As(err, &lerr) && !lerr.Retryable() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		slog.Warn("LLM call failed, will retry",
			"attempt", attempt, "max_attempts", c.maxAttempts, "error", err)
		return err
	}

	err := backoff.Retry(op,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxAttempts-1)), ctx))
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}
