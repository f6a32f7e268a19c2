package parallel

import (
	"sync"

	"github.com/YuminosukeSato/sedbaseline/pkg/errors"
)

// ParallelizeWorkers divides items into contiguous ranges, one per worker,
// and runs fn on each range concurrently. A count below one means one worker,
// in which case fn runs on the calling goroutine.
func ParallelizeWorkers(items, workers int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if workers > items {
		workers = items // No need for more workers than items
	}
	if workers == 1 {
		fn(0, items)
		return
	}

	// ceiling division
	chunkSize := (items + workers - 1) / workers

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ForEach calls fn for every index in [0, items) on up to workers goroutines
// and returns the error of the lowest failing index. A panic in fn is
// returned as *errors.PanicError.
func ForEach(items, workers int, op string, fn func(i int) error) error {
	if items <= 0 {
		return nil
	}
	errs := make([]error, items)
	ParallelizeWorkers(items, workers, func(start, end int) {
		for i := start; i < end; i++ {
			i := i
			errs[i] = errors.SafeExecute(op, func() error { return fn(i) })
		}
	})
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
