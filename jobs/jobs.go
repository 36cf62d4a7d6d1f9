// Package jobs is the small job layer the collections are scheduled on.
//
// Work is dispatched to a fixed number of worker slots. Each slot runs on its
// own goroutine for the duration of a job, so a slot index handed to a
// callback is never used by two goroutines at once; that is the contract the
// per-worker writers in parcoll rely on. Handles express completion
// dependencies between jobs ("dispose after the producers finish").
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	parerrors "github.com/tamirms/parcoll/errors"
	"github.com/tamirms/parcoll/internal/bits"
	"golang.org/x/sync/errgroup"
)

// batchesPerWorker is how many batches ParallelFor aims to hand each worker
// when the caller leaves the batch size to it.
const batchesPerWorker = 4

var closedDone = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Handle tracks completion of a scheduled job. The zero Handle is complete
// and carries no error.
type Handle struct {
	done <-chan struct{}
	err  *error // written before done is closed
}

// Completed returns a handle that is already complete.
func Completed() Handle {
	return Handle{}
}

// Done returns a channel closed when the job has finished.
func (h Handle) Done() <-chan struct{} {
	if h.done == nil {
		return closedDone
	}
	return h.done
}

// IsCompleted reports whether the job has finished without blocking.
func (h Handle) IsCompleted() bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

// Wait blocks until the job has finished and returns its error.
func (h Handle) Wait() error {
	if h.done == nil {
		return nil
	}
	<-h.done
	return *h.err
}

// Combine returns a handle that completes once every handle has completed.
// Its error joins the errors of the inputs.
func Combine(handles ...Handle) Handle {
	pending := handles[:0:0]
	for _, h := range handles {
		if h.done != nil {
			pending = append(pending, h)
		}
	}
	switch len(pending) {
	case 0:
		return Completed()
	case 1:
		return pending[0]
	}

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		errs := make([]error, 0, len(pending))
		for _, h := range pending {
			errs = append(errs, h.Wait())
		}
		err = errors.Join(errs...)
	}()
	return Handle{done: done, err: &err}
}

// Schedule runs fn on its own goroutine once dep has completed.
//
// If dep failed, fn is skipped and the handle reports an error wrapping both
// ErrDependencyFailed and the dependency's error. If ctx is cancelled before
// dep completes, fn is skipped and the handle reports ctx.Err().
func Schedule(ctx context.Context, dep Handle, fn func(ctx context.Context) error) Handle {
	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		select {
		case <-dep.Done():
		case <-ctx.Done():
			err = ctx.Err()
			return
		}
		if depErr := dep.Wait(); depErr != nil {
			err = fmt.Errorf("%w: %w", parerrors.ErrDependencyFailed, depErr)
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
			return
		}
		err = fn(ctx)
	}()
	return Handle{done: done, err: &err}
}

// ParallelFor calls fn for every index in [0, n) across at most workers
// goroutines and returns once all calls have returned.
//
// Indices are claimed in batches of batch consecutive indices; batch <= 0
// picks a size giving each worker a few batches. The worker argument is the
// slot running the call, in [0, workers). The first error cancels the
// remaining batches and is returned.
func ParallelFor(ctx context.Context, workers, n, batch int, fn func(ctx context.Context, worker, index int) error) error {
	if workers <= 0 || n < 0 {
		return fmt.Errorf("%w: workers=%d n=%d", parerrors.ErrInvalidJob, workers, n)
	}
	if n == 0 {
		return ctx.Err()
	}
	if batch <= 0 {
		batch = max(1, bits.CeilDiv(n, workers*batchesPerWorker))
	}
	workers = min(workers, bits.CeilDiv(n, batch))

	g, gctx := errgroup.WithContext(ctx)
	var next atomic.Int64
	for worker := range workers {
		g.Go(func() error {
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				start := int(next.Add(int64(batch))) - batch
				if start >= n {
					return nil
				}
				end := min(start+batch, n)
				for i := start; i < end; i++ {
					if err := fn(gctx, worker, i); err != nil {
						return err
					}
				}
			}
		})
	}
	return g.Wait()
}

// ScheduleParallelFor is ParallelFor run as a job after dep.
func ScheduleParallelFor(ctx context.Context, dep Handle, workers, n, batch int, fn func(ctx context.Context, worker, index int) error) Handle {
	return Schedule(ctx, dep, func(ctx context.Context) error {
		return ParallelFor(ctx, workers, n, batch, fn)
	})
}
