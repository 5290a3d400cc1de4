// Package retry provides a small named retry policy and a bounded polling
// helper for asynchronous remote jobs.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimedOut is returned by Poll when a remote job does not reach a terminal
// state within the configured deadline.
var ErrTimedOut = errors.New("polling timed out")

// Policy describes a bounded retry loop for an eventually-consistent external
// interaction: try up to Attempts times, sleeping Delay between tries, until
// the attempt reports success.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Do runs fn until it reports success, the attempts are exhausted, or ctx is
// cancelled. fn returns (done, err): done=true stops the loop regardless of
// err; err from the final attempt is wrapped into the returned error.
func (p Policy) Do(ctx context.Context, what string, fn func(attempt int) (bool, error)) error {
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		done, err := fn(attempt)
		if done {
			return err
		}
		lastErr = err
		if attempt < p.Attempts {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return fmt.Errorf("%s: exhausted %d attempts: %w", what, p.Attempts, lastErr)
	}
	return fmt.Errorf("%s: exhausted %d attempts", what, p.Attempts)
}

// DefaultPollTimeout bounds how long Poll waits for one remote job. The
// remote APIs report failure themselves in the common case; the deadline
// exists so a silently stuck job cannot stall a unit forever.
const DefaultPollTimeout = 15 * time.Minute

// Poll invokes fn every interval until it reports a terminal state or the
// timeout elapses. fn returns (done, err); err with done=true is passed
// through, err with done=false aborts immediately (the remote reported a
// retryable transport error is not a thing our APIs do mid-poll).
func Poll(ctx context.Context, interval, timeout time.Duration, what string, fn func() (bool, error)) error {
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s: %w after %s", what, ErrTimedOut, timeout)
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
