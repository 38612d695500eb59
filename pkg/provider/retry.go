package provider

import (
	"context"
	"errors"
	"time"

	"github.com/flocksync/flocksync/pkg/log"
)

// RetryConfig bounds the throttle backoff loop.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig matches the backend adapters' observed throttle windows.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// retryProvider retries throttled operations with exponential backoff before
// surfacing the error. All other errors pass through untouched.
type retryProvider struct {
	inner Provider
	cfg   RetryConfig
}

// WithRetry wraps a backend with throttle-aware retries.
func WithRetry(inner Provider, cfg RetryConfig) Provider {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &retryProvider{inner: inner, cfg: cfg}
}

func (r *retryProvider) Get(ctx context.Context, zone, name, rtype string) (*Record, error) {
	var record *Record
	err := r.retry(ctx, func() error {
		var err error
		record, err = r.inner.Get(ctx, zone, name, rtype)
		return err
	})
	return record, err
}

func (r *retryProvider) Upsert(ctx context.Context, record Record) error {
	return r.retry(ctx, func() error {
		return r.inner.Upsert(ctx, record)
	})
}

func (r *retryProvider) Delete(ctx context.Context, zone, name, rtype string) error {
	return r.retry(ctx, func() error {
		return r.inner.Delete(ctx, zone, name, rtype)
	})
}

func (r *retryProvider) retry(ctx context.Context, op func() error) error {
	delay := r.cfg.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil || !errors.Is(err, ErrThrottled) {
			return err
		}
		if attempt >= r.cfg.MaxAttempts {
			return err
		}
		logger := log.WithComponent("provider")
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("throttled, backing off")
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
