// Package retry provides the bounded polling primitive used for queue
// admission and device-node waits.
//
// It wraps github.com/cenkalti/backoff/v5 with a constant interval and
// explicit limits. A zero Timeout and zero MaxTries poll until the context
// is cancelled.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned when the condition never held within the policy limits
var ErrExhausted = errors.New("retry limit reached")

var errNotReady = errors.New("condition not met")

// Policy bounds a polling loop
type Policy struct {
	// Interval between attempts
	Interval time.Duration
	// Timeout caps the total elapsed time (0 = unlimited)
	Timeout time.Duration
	// MaxTries caps the number of attempts (0 = unlimited)
	MaxTries uint
}

// Constant returns a policy polling every interval with no limits
func Constant(interval time.Duration) Policy {
	return Policy{Interval: interval}
}

func (p Policy) options() []backoff.RetryOption {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		// backoff defaults to 15 minutes; 0 disables the limit
		backoff.WithMaxElapsedTime(p.Timeout),
	}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	return opts
}

// Until calls cond until it reports true, returns an error, or the policy is exhausted.
// An error from cond stops polling immediately.
func Until(ctx context.Context, p Policy, cond func() (bool, error)) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		ok, err := cond()
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !ok {
			return struct{}{}, errNotReady
		}
		return struct{}{}, nil
	}, p.options()...)

	if errors.Is(err, errNotReady) {
		return fmt.Errorf("%w after %s", ErrExhausted, describe(p))
	}
	return err
}

// Do retries op until it succeeds or the policy is exhausted, returning the last error
func Do[T any](ctx context.Context, p Policy, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, backoff.Operation[T](op), p.options()...)
}

func describe(p Policy) string {
	switch {
	case p.MaxTries > 0 && p.Timeout > 0:
		return fmt.Sprintf("%d tries or %s", p.MaxTries, p.Timeout)
	case p.MaxTries > 0:
		return fmt.Sprintf("%d tries", p.MaxTries)
	default:
		return p.Timeout.String()
	}
}
