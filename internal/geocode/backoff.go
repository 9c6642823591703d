package geocode

import (
	"context"
	"time"
)

// withRetry calls fn up to attempts times, sleeping with doubling backoff
// between failures. Retries here are short and bounded: a provider that is
// still failing after a couple of attempts gets a warning on the message,
// not more traffic.
func withRetry(ctx context.Context, attempts int, initial time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	backoff := initial
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if i < attempts-1 {
			if !sleepWithContext(ctx, backoff) {
				return err
			}
			backoff *= 2
		}
	}
	return err
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
