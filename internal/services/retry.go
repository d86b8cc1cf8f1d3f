package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/smarttransit/booking-engine/internal/models"
)

// retryTransient calls fn up to attempts times, backing off between tries.
// Only *models.TransientProviderError is retried; any other error returns at once.
func retryTransient(ctx context.Context, attempts int, initial time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.MaxInterval = 8 * initial
	policy.MaxElapsedTime = 0

	operation := func() error {
		err := fn(ctx)
		if err == nil || models.IsTransientProviderError(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	// Retry unwraps backoff.Permanent before returning
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx))
}
