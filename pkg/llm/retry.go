package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig is the explicit retry policy wrapping model calls.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

// DefaultRetryConfig returns the standard policy: three attempts with
// short exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// retryClient retries transient failures with exponential backoff.
// Only ErrUnavailable and context-free transport errors are retried;
// everything else propagates immediately.
type retryClient struct {
	inner Client
	cfg   RetryConfig
}

// WithRetry wraps a client with the given retry policy.
func WithRetry(inner Client, cfg RetryConfig) Client {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultRetryConfig()
	}
	return &retryClient{inner: inner, cfg: cfg}
}

func (r *retryClient) Complete(ctx context.Context, req *Request) (*Completion, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialInterval
	policy.MaxInterval = r.cfg.MaxInterval

	var completion *Completion
	attempt := 0
	operation := func() error {
		attempt++
		resp, err := r.inner.Complete(ctx, req)
		if err != nil {
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			slog.Warn("Model call failed, will retry",
				"attempt", attempt, "max_attempts", r.cfg.MaxAttempts, "error", err)
			return err
		}
		completion = resp
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(r.cfg.MaxAttempts-1)), ctx))
	if err != nil {
		return nil, err
	}
	return completion, nil
}

// retryable classifies errors worth retrying. Context cancellation and
// deadline expiry are never retried — the caller's budget owns those.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrUnavailable)
}
