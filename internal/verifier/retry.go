package verifier

import (
	"context"
	"time"
)

// Clock abstracts waiting so tests can run the retry loop without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RetryPolicy bounds the confirmation wait: one attempt after InitialDelay,
// then up to MaxRetries more spaced by Interval.
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxRetries   int
	Interval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{InitialDelay: 2 * time.Second, MaxRetries: 5, Interval: 2 * time.Second}
}

// Attempts is the total number of calls the policy allows.
func (p RetryPolicy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Run calls fn until it reports done, the attempts run out, or ctx ends.
// It returns the last error fn produced, or ctx.Err().
func (p RetryPolicy) Run(ctx context.Context, clock Clock, fn func(attempt int) (done bool, err error)) error {
	wait := p.InitialDelay
	var lastErr error
	for attempt := 0; attempt < p.Attempts(); attempt++ {
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-clock.After(wait):
			}
		}
		done, err := fn(attempt)
		if done {
			return err
		}
		lastErr = err
		wait = p.Interval
	}
	return lastErr
}
