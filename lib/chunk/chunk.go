package chunk

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSize        = 2000
	DefaultConcurrency = 2
)

// Split cuts items into ordered chunks of at most `size` items. A
// non-positive size falls back to `fallback`, and to DefaultSize if that
// is not positive either. Concatenating the chunks gives back `items`.
func Split[T any](items []T, size, fallback int) [][]T {
	if size <= 0 {
		size = fallback
	}
	if size <= 0 {
		size = DefaultSize
	}
	if len(items) == 0 {
		return nil
	}

	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end:end])
	}
	return out
}

// Job sends one chunk.
type Job func(ctx context.Context) error

// Prepare is called once per chunk, sequentially and in chunk order, right
// before the chunk is handed to the window. Anything that has to be
// decided in dispatch order (rather than completion order) belongs here.
type Prepare func(ctx context.Context, index int) (Job, error)

// ChunkError records why a single chunk failed.
type ChunkError struct {
	Index int
	Err   error
}

func (e ChunkError) Error() string {
	return fmt.Sprintf("chunk %d: %s", e.Index, e.Err.Error())
}

func (e ChunkError) Unwrap() error {
	return e.Err
}

// Summary is the terminal state of a dispatch, partial success included.
type Summary struct {
	Total        int
	SuccessCount int
	FailureCount int
	// Errors is sorted by chunk index.
	Errors []ChunkError
}

// Dispatch runs `total` chunks through a sliding window of at most
// `concurrency` in-flight jobs: as soon as one finishes the next one starts.
// A failing chunk never cancels its siblings, it is only recorded.
func Dispatch(ctx context.Context, total, concurrency int, prepare Prepare) Summary {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	summary := Summary{Total: total}
	var mu sync.Mutex
	record := func(index int, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			summary.SuccessCount++
			return
		}
		summary.FailureCount++
		summary.Errors = append(summary.Errors, ChunkError{Index: index, Err: err})
	}

	// a plain group (not WithContext) so that one failure does not cancel
	// the context of the others
	var group errgroup.Group
	group.SetLimit(concurrency)

	for i := 0; i < total; i++ {
		job, err := prepare(ctx, i)
		if err != nil {
			record(i, err)
			continue
		}
		group.Go(func() error {
			record(i, run(ctx, job))
			return nil
		})
	}
	group.Wait()

	slices.SortFunc(summary.Errors, func(a, b ChunkError) int {
		return a.Index - b.Index
	})
	return summary
}

func run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunk job panicked: %v", r)
		}
	}()
	return job(ctx)
}
