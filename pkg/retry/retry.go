// Package retry wraps fallible calls in a bounded exponential backoff.
package retry

import (
	"context"
	"time"
)

// Classifier reports whether err may succeed if the call is attempted again.
type Classifier func(err error) bool

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy controls how many times and how patiently a call is retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt. Each later wait doubles.
	InitialDelay time.Duration

	// MaxDelay caps a single wait.
	MaxDelay time.Duration

	// Classifier decides retryable vs fatal. Defaults to DefaultClassifier.
	Classifier Classifier

	// Sleep performs the wait. Defaults to a timer honoring ctx.
	Sleep SleepFunc

	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns 3 attempts starting at 200ms, capped at 2s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Classifier:   DefaultClassifier,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 200 * time.Millisecond
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Classifier == nil {
		p.Classifier = DefaultClassifier
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Delay returns the wait that follows the given failed attempt (1-based).
func Delay(p Policy, attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}

	delay := p.InitialDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Do runs op until it succeeds, fails with a fatal error, or the attempts run out.
// The last error from op is returned unchanged.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p := policy.withDefaults()

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}

		if !p.Classifier(err) || attempt == p.MaxAttempts {
			return result, err
		}

		delay := Delay(p, attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}

		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			// Cancelled while backing off: the caller still sees the call's own error.
			return result, err
		}
	}

	return result, err
}

// DoErr is Do for calls that only return an error.
func DoErr(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
