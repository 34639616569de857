// Package retry wraps cenkalti/backoff for bounded retries of transient cache and store errors.
package retry

import (
	"context"
	"time"

	"github.com/SergeiKhy/shortlink-core/internal/config"
	"github.com/cenkalti/backoff/v4"
)

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy is used when a component is built without configuration.
var DefaultPolicy = Policy{
	MaxAttempts:     3,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

func FromConfig(cfg config.RetryConfig) Policy {
	p := Policy{
		MaxAttempts:     cfg.MaxAttempts,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultPolicy.InitialInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// Permanent marks err as not worth retrying; Do returns it unwrapped.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op until it succeeds, returns a permanent error, ctx ends or attempts run out.
func Do(ctx context.Context, p Policy, op func() error) error {
	if p.MaxAttempts < 1 {
		p = DefaultPolicy
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
	return backoff.Retry(op, policy)
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func() error {
		v, err := op()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
