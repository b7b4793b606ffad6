package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how long an operation is retried
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	OnRetry         func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy retries three times with exponential backoff
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// Classify reports whether err is worth another attempt
type Classify func(err error) bool

// Do runs op until it succeeds, returns an error classify rejects, the
// attempts run out, or ctx is done. Non-retryable errors are returned as is.
func Do(ctx context.Context, p Policy, classify Classify, op func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempt := 0
	var retryable bool
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		retryable = classify(err)
		if !retryable {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx), func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	})

	if err == nil || !retryable || attempt < p.MaxAttempts {
		return err
	}
	return fmt.Errorf("failed after %d attempts: %w", attempt, err)
}
