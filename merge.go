package parcoll

import (
	"context"
	"slices"

	"github.com/tamirms/parcoll/jobs"
)

// MergePlan is the serial half of a parallel merge: where each partition's
// items start in the flattened output.
type MergePlan struct {
	Offsets []int // Offsets[w] is partition w's start, relative to the output base
	Total   int
}

// AppendTo flattens the partitions, in partition order, onto dst.
// dst grows once, by Len().
func (l *PartitionedList[T]) AppendTo(dst []T) []T {
	dst = slices.Grow(dst, l.Len())
	for i := range l.partitions {
		dst = append(dst, l.partitions[i].items...)
	}
	return dst
}

// ToSlice returns all items flattened in partition order.
func (l *PartitionedList[T]) ToSlice() []T {
	return l.AppendTo(nil)
}

// PrepareMerge computes each partition's output offset as a prefix sum of
// partition lengths.
func (l *PartitionedList[T]) PrepareMerge() MergePlan {
	l.checkLive()
	plan := MergePlan{Offsets: make([]int, len(l.partitions))}
	for i := range l.partitions {
		plan.Offsets[i] = plan.Total
		plan.Total += len(l.partitions[i].items)
	}
	return plan
}

// MergeParallel flattens the partitions onto dst using up to workers
// goroutines. Offsets are computed and dst resized serially first; each
// partition is then copied into its own disjoint window of dst in parallel.
// The result is identical to AppendTo.
//
// On error dst is returned at its original length.
func (l *PartitionedList[T]) MergeParallel(ctx context.Context, dst []T, workers int) ([]T, error) {
	plan := l.PrepareMerge()
	base := len(dst)
	dst = resizeFor(dst, plan.Total)
	if err := l.copyPartitions(ctx, dst[base:], plan, workers); err != nil {
		return dst[:base], err
	}
	return dst, nil
}

// ScheduleMerge runs MergeParallel as jobs after dep: a serial prepare job
// that resizes *dst, followed by a parallel copy job. *dst must not be read
// until the returned handle completes; on error its contents are undefined.
func (l *PartitionedList[T]) ScheduleMerge(ctx context.Context, dep jobs.Handle, dst *[]T, workers int) jobs.Handle {
	var plan MergePlan
	var base int
	prepare := jobs.Schedule(ctx, dep, func(context.Context) error {
		plan = l.PrepareMerge()
		base = len(*dst)
		*dst = resizeFor(*dst, plan.Total)
		return nil
	})
	return jobs.Schedule(ctx, prepare, func(ctx context.Context) error {
		return l.copyPartitions(ctx, (*dst)[base:], plan, workers)
	})
}

// copyPartitions copies partition w into out[plan.Offsets[w]:], one task
// per partition. Windows are disjoint so tasks never race.
func (l *PartitionedList[T]) copyPartitions(ctx context.Context, out []T, plan MergePlan, workers int) error {
	if plan.Total == 0 {
		return nil
	}
	return jobs.ParallelFor(ctx, workers, len(plan.Offsets), 1, func(_ context.Context, _, part int) error {
		copy(out[plan.Offsets[part]:], l.partitions[part].items)
		return nil
	})
}

// resizeFor extends dst by n elements, growing capacity at most once.
func resizeFor[T any](dst []T, n int) []T {
	return slices.Grow(dst, n)[:len(dst)+n]
}
