package delivery

import (
	"context"
	"sync"
)

// Lease decides, per partition and per run, which chunk carries the
// destructive replace flag.
//
// Until some chunk is confirmed delivered, exactly one chunk at a time holds
// the lease and is sent with replace_existing = true, later chunks wait for
// it to settle. A confirmed success clears the flag for the rest of the run,
// a terminal failure hands the lease to the next chunk.
type Lease struct {
	mu        sync.Mutex
	held      bool
	confirmed bool
	// closed and replaced whenever held or confirmed changes
	changed chan struct{}
}

func NewLease() *Lease {
	return &Lease{changed: make(chan struct{})}
}

// Acquire returns the replace flag for the next chunk. It blocks while
// another chunk holds the lease.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	for {
		l.mu.Lock()
		if l.confirmed {
			l.mu.Unlock()
			return false, nil
		}
		if !l.held {
			l.held = true
			l.mu.Unlock()
			return true, nil
		}
		changed := l.changed
		l.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// Settle reports the outcome of a chunk that was sent with the given flag.
// Chunks sent without the flag do not affect the lease.
func (l *Lease) Settle(replace, delivered bool) {
	if !replace {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	if delivered {
		l.confirmed = true
	}
	close(l.changed)
	l.changed = make(chan struct{})
}

// Confirmed reports whether a chunk carrying the flag has been delivered.
func (l *Lease) Confirmed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.confirmed
}

// Coordinator hands out one lease per partition and refuses to run the
// same partition twice at once.
type Coordinator struct {
	mu     sync.Mutex
	active map[string]*Lease
}

func NewCoordinator() *Coordinator {
	return &Coordinator{active: make(map[string]*Lease)}
}

// Begin starts a run for a partition, the returned function ends it.
func (c *Coordinator) Begin(partitionID string) (*Lease, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.active[partitionID]; busy {
		return nil, nil, ErrPartitionBusy
	}
	lease := NewLease()
	c.active[partitionID] = lease
	return lease, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.active, partitionID)
	}, nil
}
