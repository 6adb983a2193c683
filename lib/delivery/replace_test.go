package delivery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func acquireAsync(ctx context.Context, lease *Lease) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		replace, err := lease.Acquire(ctx)
		if err != nil {
			close(out)
			return
		}
		out <- replace
	}()
	return out
}

func requireBlocked(t *testing.T, ch <-chan bool) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("acquire returned %v while the lease was held", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLease(t *testing.T) {
	ctx := context.Background()
	lease := NewLease()

	first, err := lease.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, first)

	second := acquireAsync(ctx, lease)
	requireBlocked(t, second)

	// a terminal failure hands the flag on
	lease.Settle(true, false)
	require.True(t, <-second)
	require.False(t, lease.Confirmed())

	third := acquireAsync(ctx, lease)
	requireBlocked(t, third)

	lease.Settle(true, true)
	require.False(t, <-third)
	require.True(t, lease.Confirmed())

	again, err := lease.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, again)

	// chunks sent without the flag never touch the lease
	lease.Settle(false, false)
	require.True(t, lease.Confirmed())
}

func TestLeaseAcquireCancelled(t *testing.T) {
	lease := NewLease()
	_, err := lease.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = lease.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinatorBusy(t *testing.T) {
	coordinator := NewCoordinator()

	_, end, err := coordinator.Begin("2025-1")
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = coordinator.Begin("2025-1")
	require.ErrorIs(t, err, ErrPartitionBusy)

	_, endOther, err := coordinator.Begin("2025-2")
	if err != nil {
		t.Fatal(err)
	}
	endOther()

	end()
	_, end, err = coordinator.Begin("2025-1")
	if err != nil {
		t.Fatal(err)
	}
	end()
}
