// Package retry holds the bounded retry policies shared by the services.
package retry

import (
	"context"
	"errors"
	"time"

	"anoa.com/fellowship/pkg/apperror"
	"github.com/cenkalti/backoff/v5"
)

const DefaultAttempts = 3

// OnConflict runs op up to attempts times, retrying only while it fails with
// apperror.ErrConcurrencyConflict. Any other error is returned immediately.
// When the attempts run out the last conflict is returned.
func OnConflict(ctx context.Context, attempts int, op func() error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !errors.Is(err, apperror.ErrConcurrencyConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)))
	return err
}

// NewReconnectBackOff is the policy for re-opening dropped change streams.
func NewReconnectBackOff(maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	return b
}

// Wait sleeps for d unless ctx ends first. It reports whether the full delay
// elapsed.
func Wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
