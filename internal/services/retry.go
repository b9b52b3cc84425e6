package services

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"billing_backend/internal/appErrors"
	"billing_backend/internal/repositories"
)

const maxConflictRetries = 3

// withConflictRetry runs a read-modify-write sequence on the Subscription
// aggregate, retrying on optimistic-lock conflicts with fresh state. The
// callback must re-read the row itself so each attempt sees the winner's
// version. Any other error aborts immediately. Exhausted retries surface as
// appErrors.ErrConflict.
func withConflictRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond

	err := backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if appErrors.Is(err, repositories.ErrVersionConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, maxConflictRetries), ctx))

	if err == nil {
		return nil
	}
	if appErrors.Is(err, repositories.ErrVersionConflict) {
		return appErrors.ErrConflict.WithError(err)
	}
	return err
}
