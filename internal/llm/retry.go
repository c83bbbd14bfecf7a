package llm

import (
	"context"
	"errors"

	"github.com/felixgeelhaar/fortify/retry"
)

// RetryProvider repeats transient failures with exponential backoff.
// A schema violation is retried once; a second one is returned.
type RetryProvider struct {
	inner  Provider
	config RetryConfig
}

// WithRetry wraps p with retry logic.
func WithRetry(p Provider, cfg RetryConfig) Provider {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &RetryProvider{inner: p, config: cfg}
}

func (r *RetryProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	invalidRetried := false

	retrier := retry.New[*Response](retry.Config{
		MaxAttempts:   r.config.MaxAttempts,
		InitialDelay:  r.config.InitialWait,
		MaxDelay:      r.config.MaxWait,
		Multiplier:    r.config.Multiplier,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable: func(err error) bool {
			var inv *ErrInvalidResponse
			if errors.As(err, &inv) {
				if invalidRetried {
					return false
				}
				invalidRetried = true
				return true
			}
			return Retryable(err)
		},
	})

	return retrier.Do(ctx, func(ctx context.Context) (*Response, error) {
		return r.inner.Generate(ctx, req)
	})
}

func (r *RetryProvider) Name() string    { return r.inner.Name() }
func (r *RetryProvider) ModelID() string { return r.inner.ModelID() }
