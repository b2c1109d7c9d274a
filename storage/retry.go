package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/janelia-flyem/mipvol/mipvol"
)

// RetryPolicy is the budget for retrying transient store errors.
type RetryPolicy struct {
	MaxAttempts int           // total tries including the first; < 1 means 1
	BaseDelay   time.Duration // delay before the second try, doubling after
	MaxDelay    time.Duration // cap on any single delay
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Delay returns the wait before the given retry, where retry 1 follows the first failure.
func (p RetryPolicy) Delay(retry int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Do calls op until it succeeds or returns an error that is not retryable.
// Only errors wrapping mipvol.ErrStoreUnavailable are retried.  When the budget is
// exhausted the last error is returned wrapped.
func (p RetryPolicy) Do(ctx context.Context, what string, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(ctx); err == nil || !mipvol.IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		mipvol.Debugf("%s failed (attempt %d of %d), retrying in %s: %v\n", what, attempt, attempts, delay, err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: giving up after %d attempts: %w", what, attempts, err)
}
