package repo

import "sync"

// runBounded runs fn(0), fn(1), ..., fn(n-1) concurrently, at most
// concurrency at a time, and returns a slice of length n whose element i is
// fn(i)'s error (nil where fn(i) succeeded). This is the hand-rolled
// WaitGroup-plus-buffered-semaphore pattern spec §4.E calls for in place of
// an errgroup import: cross-command atomicity isn't guaranteed across a
// batch anyway, so there's nothing an errgroup's shared-context
// cancellation would buy beyond what a plain semaphore gives.
func runBounded(n, concurrency int, fn func(i int) error) []error {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = fn(i)
		}(i)
	}
	wg.Wait()
	return errs
}

func collectItemErrors(ids []string, errs []error) []ItemError {
	var out []ItemError
	for i, err := range errs {
		if err != nil {
			id := ""
			if i < len(ids) {
				id = ids[i]
			}
			out = append(out, ItemError{Index: i, ID: id, Err: err})
		}
	}
	return out
}
