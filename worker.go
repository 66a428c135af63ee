package cxtfit

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

type batchJob struct {
	index int
	input SolverInput
}

type batchResult struct {
	index   int
	results *SolverResults
	err     error
}

// RunBatch simulates every input on a pool of workers, each owning its own
// Solver. Results keep the order of inputs. The first error cancels the
// remaining runs and is returned together with the results finished so far.
func RunBatch(ctx context.Context, inputs []SolverInput, workers int) ([]*SolverResults, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan batchJob, len(inputs))
	results := make(chan batchResult, len(inputs))

	// Worker pool
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					continue
				}
				res, err := Simulate(ctx, j.input)
				if err != nil {
					cancel()
				}
				results <- batchResult{index: j.index, results: res, err: err}
			}
		}()
	}

	// Send jobs
	for i, in := range inputs {
		jobs <- batchJob{index: i, input: in}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]*SolverResults, len(inputs))
	var firstErr error
	for r := range results {
		out[r.index] = r.results
		if r.err == nil {
			continue
		}
		// a cancellation caused by the failing run must not hide its error
		if firstErr == nil || (errors.Is(firstErr, ErrCanceled) && !errors.Is(r.err, ErrCanceled)) {
			firstErr = r.err
		}
	}
	if firstErr == nil {
		if err := ctx.Err(); err != nil && len(inputs) > 0 {
			// parent context canceled before all jobs ran
			for _, r := range out {
				if r == nil {
					return out, fmt.Errorf("%w: %v", ErrCanceled, err)
				}
			}
		}
	}
	return out, firstErr
}
