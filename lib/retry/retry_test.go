package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")
var errClient = errors.New("client")

type recorder struct {
	slept []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	return nil
}

func TestDelay(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 32 * time.Second, MaxRetries: 5}

	var delays []time.Duration
	for attempt := 0; attempt < 5; attempt++ {
		delays = append(delays, p.Delay(attempt))
	}
	require.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, delays)

	require.Equal(t, 32*time.Second, p.Delay(5))
	require.Equal(t, 32*time.Second, p.Delay(40))
	require.Equal(t, 31*time.Second, p.Worst())
}

func TestDefaultPolicyWorstCase(t *testing.T) {
	p := DefaultPolicy()
	require.Len(t, p.Schedule(), 5)
	// the first attempt plus five retries waits at most 1+2+4+8+16 seconds
	require.Equal(t, 31*time.Second, p.Worst())
	require.Equal(t, time.Second, Policy{}.Delay(0))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	rec := &recorder{}
	p := DefaultPolicy()
	p.Sleep = rec.sleep

	calls := 0
	out := Do(context.Background(), p, func(ctx context.Context, attempt int) (string, error) {
		require.Equal(t, calls, attempt)
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})

	require.True(t, out.Ok())
	require.Equal(t, "ok", out.Value)
	require.Equal(t, 3, out.Attempts)
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.slept)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	rec := &recorder{}
	p := DefaultPolicy()
	p.Sleep = rec.sleep
	p.Retryable = func(err error) bool { return !errors.Is(err, errClient) }

	out := Do(context.Background(), p, func(ctx context.Context, attempt int) (int, error) {
		return 0, errClient
	})

	require.False(t, out.Ok())
	require.ErrorIs(t, out.Err, errClient)
	require.Equal(t, 1, out.Attempts)
	require.False(t, out.Exhausted)
	require.Empty(t, rec.slept)
}

func TestDoPermanent(t *testing.T) {
	rec := &recorder{}
	p := DefaultPolicy()
	p.Sleep = rec.sleep

	out := Do(context.Background(), p, func(ctx context.Context, attempt int) (int, error) {
		return 0, Permanent(errClient)
	})
	require.ErrorIs(t, out.Err, errClient)
	require.Equal(t, 1, out.Attempts)
}

func TestDoExhaustsBudget(t *testing.T) {
	rec := &recorder{}
	p := DefaultPolicy()
	p.Sleep = rec.sleep

	var retries []int
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		retries = append(retries, attempt)
	}

	out := Do(context.Background(), p, func(ctx context.Context, attempt int) (int, error) {
		return 0, errTransient
	})

	require.True(t, out.Exhausted)
	require.ErrorIs(t, out.Err, errTransient)
	require.Equal(t, 6, out.Attempts)
	require.Equal(t, []int{1, 2, 3, 4, 5}, retries)
	require.Equal(t, p.Schedule(), rec.slept)
}

func TestDoRecoversPanic(t *testing.T) {
	out := Do(context.Background(), DefaultPolicy(), func(ctx context.Context, attempt int) (int, error) {
		panic("boom")
	})
	require.Error(t, out.Err)
	require.Contains(t, out.Err.Error(), "boom")
	require.Equal(t, 1, out.Attempts)
}

func TestDoContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := Do(ctx, Policy{MaxRetries: 3, BaseDelay: time.Hour}, func(ctx context.Context, attempt int) (int, error) {
		return 0, errTransient
	})
	require.ErrorIs(t, out.Err, context.Canceled)
	require.ErrorIs(t, out.Err, errTransient)
	require.Equal(t, 1, out.Attempts)
}
