package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 32 * time.Second
	DefaultMaxRetries = 5
)

// Policy describes how an operation is retried. Zero delays fall back to
// their defaults, a zero MaxRetries means a single attempt.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Retryable reports whether a failed attempt may be tried again,
	// nil means every error is retryable.
	Retryable func(err error) bool
	// Sleep waits between attempts, nil means a context aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called right before waiting for the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the default retry configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	return p
}

// Delay returns the wait before retry number `attempt` (0 based):
// min(base * 2^attempt, cap).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return min(delay, p.MaxDelay)
}

// Schedule returns every delay the policy can produce, in order.
func (p Policy) Schedule() []time.Duration {
	p = p.withDefaults()
	out := make([]time.Duration, p.MaxRetries)
	for i := range out {
		out[i] = p.Delay(i)
	}
	return out
}

// Worst returns the longest total time the policy can spend waiting.
func (p Policy) Worst() time.Duration {
	var total time.Duration
	for _, d := range p.Schedule() {
		total += d
	}
	return total
}

func (p Policy) retryable(err error) bool {
	var permanent permanentError
	if errors.As(err, &permanent) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks an error as not worth retrying regardless of policy.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Outcome is the result of running an operation under a policy.
type Outcome[T any] struct {
	Value T
	// Attempts is how many times the operation ran.
	Attempts int
	// Err is the last error, nil on success.
	Err error
	// Exhausted is true when the last error was retryable but the budget
	// ran out.
	Exhausted bool
}

func (o Outcome[T]) Ok() bool {
	return o.Err == nil
}

// Do runs op until it succeeds, fails with a non-retryable error, the
// retry budget runs out or ctx is done. It never panics past this boundary:
// a panic inside op is converted into a permanent failure.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context, attempt int) (T, error)) Outcome[T] {
	policy = policy.withDefaults()

	var out Outcome[T]
	for attempt := 0; ; attempt++ {
		value, err := guard(ctx, attempt, op)
		out.Attempts++
		if err == nil {
			out.Value = value
			out.Err = nil
			return out
		}
		out.Err = err

		if !policy.retryable(err) {
			return out
		}
		if attempt >= policy.MaxRetries {
			out.Exhausted = true
			return out
		}

		delay := policy.Delay(attempt)
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, delay, err)
		}
		if serr := policy.Sleep(ctx, delay); serr != nil {
			out.Err = errors.Join(err, serr)
			return out
		}
	}
}

func guard[T any](ctx context.Context, attempt int, op func(ctx context.Context, attempt int) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(panicError{value: r})
		}
	}()
	return op(ctx, attempt)
}

type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.value)
}
