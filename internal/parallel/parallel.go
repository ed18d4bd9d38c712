// Package parallel runs independent tasks over an index set with a bounded
// number of workers.
package parallel

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Outcome is the result of the task at Index. Done is false for tasks that
// were never started because the context was cancelled.
type Outcome[T any] struct {
	Index int
	Value T
	Err   error
	Done  bool
}

// Workers resolves a configured worker count. Values <= 0 mean one worker per CPU.
func Workers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Map calls fn for every index in [0, n) using at most workers goroutines and
// returns one Outcome per index, in index order.
//
// A task that returns an error or panics only affects its own Outcome; the
// remaining tasks still run. Each task writes nothing but its own slot, so fn
// must keep any other state local. If ctx is cancelled, unscheduled tasks are
// skipped and ctx.Err() is returned alongside the partial outcomes.
func Map[T any](ctx context.Context, workers, n int, fn func(ctx context.Context, k int) (T, error)) ([]Outcome[T], error) {
	outcomes := make([]Outcome[T], n)
	if n == 0 {
		return outcomes, ctx.Err()
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(Workers(workers))

	for k := 0; k < n; k++ {
		if gCtx.Err() != nil {
			break
		}
		k := k
		g.Go(func() error {
			outcomes[k] = run(gCtx, k, fn)
			// Do not propagate task errors; siblings must keep running.
			return nil
		})
	}

	_ = g.Wait()
	return outcomes, ctx.Err()
}

func run[T any](ctx context.Context, k int, fn func(ctx context.Context, k int) (T, error)) (out Outcome[T]) {
	out.Index = k
	if ctx.Err() != nil {
		return out
	}
	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("task %d panicked: %v", k, r)
		}
	}()
	out.Done = true
	out.Value, out.Err = fn(ctx, k)
	return out
}

// Failed returns the outcomes that ran and failed.
func Failed[T any](outcomes []Outcome[T]) []Outcome[T] {
	var out []Outcome[T]
	for _, o := range outcomes {
		if o.Done && o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}
