// Package retry provides a small retry-with-backoff helper shared by the
// worker harness and the stage actions, grounded on the repeated
// sleep-then-retry loops used around REST calls in spec.md §4.3/§4.4.
package retry

import (
	"context"
	"time"
)

// Do calls fn up to attempts times, sleeping delay between attempts and
// doubling the delay after each failure (capped at maxDelay). It returns
// the last error if every attempt fails, or nil on the first success.
// Do returns ctx.Err() immediately if ctx is canceled between attempts.
func Do(ctx context.Context, attempts int, delay, maxDelay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return err
}
