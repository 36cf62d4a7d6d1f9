package parcoll

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"reflect"
	"sync/atomic"

	parerrors "github.com/tamirms/parcoll/errors"
	"github.com/tamirms/parcoll/internal/bits"
	"github.com/tamirms/parcoll/internal/layout"
	"github.com/tamirms/parcoll/jobs"
)

// minPartitionCapacity is the first capacity a partition grows to.
const minPartitionCapacity = 16

// partition is one worker's private growable array.
type partition[T any] struct {
	items      []T
	chunk      int // open chunk index, -1 when none
	chunkStart int
	_          [cacheLinePad]byte
}

// reserve makes room for n more items, doubling capacity on overflow. A bulk
// write that doubling cannot cover rounds up to the next power of two.
func (p *partition[T]) reserve(n int) {
	need := len(p.items) + n
	if need <= cap(p.items) {
		return
	}
	grown := make([]T, len(p.items), max(2*cap(p.items), bits.NextPow2(need), minPartitionCapacity))
	copy(grown, p.items)
	p.items = grown
}

// ChunkRange locates one chunk's items: Count items starting at Start in
// partition Partition.
type ChunkRange struct {
	Partition int
	Start     int
	Count     int
}

// PartitionedList is an append-only list split into one partition per
// worker, so workers append without coordinating.
//
// In direct mode workers call Write with their worker index. In chunk mode
// the caller first declares how many chunks (units of parallel work) there
// are with SetChunkCount; each worker then brackets the writes for a chunk
// with BeginChunk/EndChunk on its ChunkWriter, which records where that
// chunk's items landed. Readers can then fetch any chunk's items directly
// with ChunkItems, in parallel, without scanning.
//
// After producers finish, AppendTo/ToSlice flatten the partitions serially,
// and MergeParallel/ScheduleMerge flatten them in parallel.
type PartitionedList[T any] struct {
	partitions []partition[T]
	ranges     []ChunkRange // nil until SetChunkCount
	sealed     []bool       // sealed[i] is set once chunk i has ended
	logger     *slog.Logger
	disposed   atomic.Bool
}

// ChunkWriter writes through one worker's partition in chunk mode.
// It must not be used from two goroutines at once.
type ChunkWriter[T any] struct {
	l      *PartitionedList[T]
	worker int
}

// NewPartitionedList creates a list with one partition per worker, each with
// room for initialCapacity items.
func NewPartitionedList[T any](initialCapacity int, opts ...ListOption) (*PartitionedList[T], error) {
	cfg := defaultListConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.workers <= 0 {
		return nil, fmt.Errorf("%w: %d", parerrors.ErrInvalidWorkers, cfg.workers)
	}
	if initialCapacity < 0 {
		return nil, fmt.Errorf("%w: %d", parerrors.ErrInvalidCapacity, initialCapacity)
	}
	if err := layout.Validate(reflect.TypeFor[T](), math.MaxInt32); err != nil {
		return nil, err
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	l := &PartitionedList[T]{
		partitions: make([]partition[T], cfg.workers),
		logger:     cfg.logger,
	}
	for i := range l.partitions {
		l.partitions[i].items = make([]T, 0, initialCapacity)
		l.partitions[i].chunk = -1
	}
	return l, nil
}

// Workers returns the number of partitions.
func (l *PartitionedList[T]) Workers() int {
	l.checkLive()
	return len(l.partitions)
}

// Write appends v to worker's partition.
func (l *PartitionedList[T]) Write(v T, worker int) {
	l.checkLive()
	p := &l.partitions[worker]
	p.reserve(1)
	p.items = append(p.items, v)
}

// WriteSlice appends vs to worker's partition in one copy.
func (l *PartitionedList[T]) WriteSlice(vs []T, worker int) {
	l.checkLive()
	p := &l.partitions[worker]
	p.reserve(len(vs))
	p.items = append(p.items, vs...)
}

// Len returns the total number of items across all partitions.
func (l *PartitionedList[T]) Len() int {
	l.checkLive()
	n := 0
	for i := range l.partitions {
		n += len(l.partitions[i].items)
	}
	return n
}

// PartitionLen returns the number of items in worker's partition.
func (l *PartitionedList[T]) PartitionLen(worker int) int {
	l.checkLive()
	return len(l.partitions[worker].items)
}

// Partition returns worker's items. The slice aliases the list and is only
// valid until the next write to that partition.
func (l *PartitionedList[T]) Partition(worker int) []T {
	l.checkLive()
	return l.partitions[worker].items
}

// SetChunkCount switches the list into chunk mode with n chunks and clears
// all previously recorded chunk ranges. Call it before any worker begins a
// chunk, never concurrently with writers.
func (l *PartitionedList[T]) SetChunkCount(n int) {
	l.checkLive()
	if n < 0 {
		panic(fmt.Errorf("%w: chunk count %d", parerrors.ErrInvalidCapacity, n))
	}
	if cap(l.ranges) >= n && l.ranges != nil {
		l.ranges = l.ranges[:n]
		l.sealed = l.sealed[:n]
		clear(l.ranges)
		clear(l.sealed)
	} else {
		l.ranges = make([]ChunkRange, n)
		l.sealed = make([]bool, n)
	}
	for i := range l.partitions {
		l.partitions[i].chunk = -1
	}
}

// ChunkCount returns the value last passed to SetChunkCount, or 0.
func (l *PartitionedList[T]) ChunkCount() int {
	l.checkLive()
	return len(l.ranges)
}

// ChunkWriter returns the chunk-mode writer for worker.
func (l *PartitionedList[T]) ChunkWriter(worker int) ChunkWriter[T] {
	l.checkLive()
	_ = l.partitions[worker]
	return ChunkWriter[T]{l: l, worker: worker}
}

// BeginChunk starts recording chunk at the current end of the writer's
// partition. Misuse (no SetChunkCount, index out of range, a chunk already
// ended, or a chunk still open) is logged and the chunk is not recorded;
// subsequent writes still land in the partition.
func (w ChunkWriter[T]) BeginChunk(chunk int) {
	l := w.l
	l.checkLive()
	p := &l.partitions[w.worker]
	switch {
	case l.ranges == nil:
		l.logger.Warn("parcoll: BeginChunk before SetChunkCount", "chunk", chunk, "worker", w.worker)
		p.chunk = -1
		return
	case chunk < 0 || chunk >= len(l.ranges):
		l.logger.Warn("parcoll: chunk index out of range", "chunk", chunk, "chunks", len(l.ranges), "worker", w.worker)
		p.chunk = -1
		return
	case l.sealed[chunk]:
		l.logger.Warn("parcoll: chunk already written", "chunk", chunk, "worker", w.worker)
		p.chunk = -1
		return
	case p.chunk >= 0:
		l.logger.Warn("parcoll: BeginChunk with a chunk still open; dropping it", "open", p.chunk, "chunk", chunk, "worker", w.worker)
	}
	p.chunk = chunk
	p.chunkStart = len(p.items)
}

// Write appends v to the writer's partition.
func (w ChunkWriter[T]) Write(v T) {
	w.l.Write(v, w.worker)
}

// WriteSlice appends vs to the writer's partition in one copy.
func (w ChunkWriter[T]) WriteSlice(vs []T) {
	w.l.WriteSlice(vs, w.worker)
}

// EndChunk records the open chunk's range. The range is immutable until the
// next SetChunkCount.
func (w ChunkWriter[T]) EndChunk() {
	l := w.l
	l.checkLive()
	p := &l.partitions[w.worker]
	if p.chunk < 0 {
		l.logger.Warn("parcoll: EndChunk without an open chunk", "worker", w.worker)
		return
	}
	l.ranges[p.chunk] = ChunkRange{
		Partition: w.worker,
		Start:     p.chunkStart,
		Count:     len(p.items) - p.chunkStart,
	}
	l.sealed[p.chunk] = true
	p.chunk = -1
}

// ChunkRange returns where chunk's items live. Before SetChunkCount, and for
// chunks that never ended, it returns an empty range. chunk must be below
// ChunkCount once chunk mode is on.
func (l *PartitionedList[T]) ChunkRange(chunk int) ChunkRange {
	l.checkLive()
	if l.ranges == nil {
		return ChunkRange{}
	}
	return l.ranges[chunk]
}

// ChunkItems returns chunk's items, aliasing the owning partition. It returns
// nil under the same conditions ChunkRange returns an empty range.
func (l *PartitionedList[T]) ChunkItems(chunk int) []T {
	r := l.ChunkRange(chunk)
	if r.Count == 0 {
		return nil
	}
	return l.partitions[r.Partition].items[r.Start : r.Start+r.Count : r.Start+r.Count]
}

// Clear empties every partition and forgets all chunk ranges, keeping the
// chunk count and the allocated capacity.
func (l *PartitionedList[T]) Clear() {
	l.checkLive()
	for i := range l.partitions {
		l.partitions[i].items = l.partitions[i].items[:0]
		l.partitions[i].chunk = -1
	}
	clear(l.ranges)
	clear(l.sealed)
}

// Dispose drops all storage. The list must not be used afterwards; doing so
// panics with ErrDisposed. Dispose is idempotent.
func (l *PartitionedList[T]) Dispose() {
	if !l.disposed.CompareAndSwap(false, true) {
		return
	}
	l.partitions = nil
	l.ranges = nil
	l.sealed = nil
}

// DisposeAfter schedules Dispose to run once dep has completed.
// If dep fails, the list is still disposed and the handle reports dep's error.
func (l *PartitionedList[T]) DisposeAfter(dep jobs.Handle) jobs.Handle {
	return jobs.Schedule(context.Background(), jobs.Completed(), func(context.Context) error {
		err := dep.Wait()
		l.Dispose()
		return err
	})
}

func (l *PartitionedList[T]) checkLive() {
	if l.disposed.Load() {
		panic(parerrors.ErrDisposed)
	}
}
