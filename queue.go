package parcoll

import (
	"context"
	"fmt"
	"reflect"
	"sync/atomic"

	parerrors "github.com/tamirms/parcoll/errors"
	"github.com/tamirms/parcoll/internal/layout"
	"github.com/tamirms/parcoll/jobs"
)

// writeSlot is one worker's current write block, padded to its own cache line.
type writeSlot struct {
	block atomic.Uint32
	_     [cacheLinePad - 4]byte
}

// Queue is an unbounded FIFO built from a chain of pool blocks.
//
// Many workers may Enqueue concurrently as long as each uses its own worker
// slot: a worker fills its current write block and links a fresh block onto
// the chain tail when it runs out. Only one goroutine may dequeue, and only
// after producers have finished (a completed jobs.Handle or equivalent
// barrier). Items from one worker keep their relative order; blocks from
// different workers appear in the order they were linked.
//
// T must be a fixed-size type without pointers; see NewQueue.
type Queue[T any] struct {
	pool     *Pool
	maxItems int32

	first       atomic.Uint32
	last        atomic.Uint32
	currentRead int32 // read index within first, consumer only

	slots    []writeSlot
	disposed atomic.Bool
}

// ParallelWriter is a handle that enqueues through one worker slot.
// It must not be used from two goroutines at once.
type ParallelWriter[T any] struct {
	q      *Queue[T]
	worker int
}

// NewQueue creates an empty queue whose blocks come from pool.
//
// T is checked once here: types holding pointers (including strings, slices,
// maps and interfaces) are rejected with ErrManagedElement because block
// memory is not scanned by the garbage collector.
func NewQueue[T any](pool *Pool, opts ...QueueOption) (*Queue[T], error) {
	if pool == nil {
		return nil, parerrors.ErrNilPool
	}
	cfg := defaultQueueConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.workers <= 0 {
		return nil, fmt.Errorf("%w: %d", parerrors.ErrInvalidWorkers, cfg.workers)
	}
	if err := layout.Validate(reflect.TypeFor[T](), BlockSize); err != nil {
		return nil, err
	}

	return &Queue[T]{
		pool:     pool,
		maxItems: int32(BlockSize / layout.Size[T]()),
		slots:    make([]writeSlot, cfg.workers),
	}, nil
}

// ItemsPerBlock returns how many elements fit in one block.
func (q *Queue[T]) ItemsPerBlock() int {
	return int(q.maxItems)
}

// WorkerSlots returns the number of worker slots.
func (q *Queue[T]) WorkerSlots() int {
	return len(q.slots)
}

// ParallelWriter returns a writer bound to worker slot worker.
func (q *Queue[T]) ParallelWriter(worker int) ParallelWriter[T] {
	q.checkLive()
	_ = q.slots[worker]
	return ParallelWriter[T]{q: q, worker: worker}
}

// Enqueue appends v through the writer's worker slot.
func (w ParallelWriter[T]) Enqueue(v T) {
	w.q.Enqueue(v, w.worker)
}

// Worker returns the writer's worker slot.
func (w ParallelWriter[T]) Worker() int {
	return w.worker
}

// Enqueue appends v through worker slot worker. Distinct workers may call
// Enqueue concurrently; the same worker must not.
func (q *Queue[T]) Enqueue(v T, worker int) {
	q.checkLive()
	slot := &q.slots[worker]
	id := BlockID(slot.block.Load())
	if id == nilBlock || q.pool.slot(id).numItems.Load() == q.maxItems {
		id = q.linkNewBlock()
		slot.block.Store(uint32(id))
	}

	hdr := q.pool.slot(id)
	n := hdr.numItems.Load()
	q.items(id)[n] = v
	hdr.numItems.Store(n + 1)
}

// linkNewBlock allocates a block and makes it the chain tail.
func (q *Queue[T]) linkNewBlock() BlockID {
	id := q.pool.AllocateBlock()
	for {
		prev := q.last.Load()
		if !q.last.CompareAndSwap(prev, uint32(id)) {
			continue
		}
		if BlockID(prev) == nilBlock {
			q.first.Store(uint32(id))
		} else {
			q.pool.slot(BlockID(prev)).next.Store(uint32(id))
		}
		return id
	}
}

// TryDequeue removes and returns the oldest item. It returns false if the
// queue is empty. Single consumer only.
func (q *Queue[T]) TryDequeue() (T, bool) {
	q.checkLive()
	var zero T
	id := BlockID(q.first.Load())
	if id == nilBlock {
		return zero, false
	}
	n := q.pool.slot(id).numItems.Load()
	if q.currentRead >= n {
		return zero, false
	}

	v := q.items(id)[q.currentRead]
	q.currentRead++
	if q.currentRead >= n {
		q.unlinkFirst(id)
	}
	return v, true
}

// Dequeue removes and returns the oldest item, or ErrEmpty.
func (q *Queue[T]) Dequeue() (T, error) {
	v, ok := q.TryDequeue()
	if !ok {
		return v, parerrors.ErrEmpty
	}
	return v, nil
}

// unlinkFirst drops the exhausted head block and returns it to the pool.
func (q *Queue[T]) unlinkFirst(id BlockID) {
	next := q.pool.slot(id).next.Load()
	q.first.Store(next)
	if BlockID(next) == nilBlock {
		q.last.Store(uint32(nilBlock))
	}
	// A partly filled block may still be some worker's write target.
	for i := range q.slots {
		q.slots[i].block.CompareAndSwap(uint32(id), uint32(nilBlock))
	}
	q.currentRead = 0
	q.pool.FreeBlock(id)
}

// Peek returns the oldest item without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.checkLive()
	var zero T
	id := BlockID(q.first.Load())
	if id == nilBlock || q.currentRead >= q.pool.slot(id).numItems.Load() {
		return zero, false
	}
	return q.items(id)[q.currentRead], true
}

// Count returns the number of items in the queue. It walks the block chain.
func (q *Queue[T]) Count() int {
	q.checkLive()
	count := 0
	read := q.currentRead
	for id := BlockID(q.first.Load()); id != nilBlock; {
		hdr := q.pool.slot(id)
		count += int(hdr.numItems.Load() - read)
		read = 0
		id = BlockID(hdr.next.Load())
	}
	return count
}

// IsEmpty reports whether the queue holds no items.
func (q *Queue[T]) IsEmpty() bool {
	q.checkLive()
	read := q.currentRead
	for id := BlockID(q.first.Load()); id != nilBlock; {
		hdr := q.pool.slot(id)
		if hdr.numItems.Load() > read {
			return false
		}
		read = 0
		id = BlockID(hdr.next.Load())
	}
	return true
}

// Clear removes every item and returns all blocks to the pool.
// It must not run concurrently with any other queue operation.
func (q *Queue[T]) Clear() {
	q.checkLive()
	q.freeChain()
}

func (q *Queue[T]) freeChain() {
	id := BlockID(q.first.Load())
	for id != nilBlock {
		next := BlockID(q.pool.slot(id).next.Load())
		q.pool.FreeBlock(id)
		id = next
	}
	q.first.Store(uint32(nilBlock))
	q.last.Store(uint32(nilBlock))
	q.currentRead = 0
	for i := range q.slots {
		q.slots[i].block.Store(uint32(nilBlock))
	}
}

// ToSlice returns the queued items in dequeue order without removing them.
func (q *Queue[T]) ToSlice() []T {
	return q.AppendTo(make([]T, 0, q.Count()))
}

// AppendTo appends the queued items in dequeue order to dst, skipping items
// already dequeued from the head block.
func (q *Queue[T]) AppendTo(dst []T) []T {
	q.checkLive()
	read := q.currentRead
	for id := BlockID(q.first.Load()); id != nilBlock; {
		hdr := q.pool.slot(id)
		dst = append(dst, q.items(id)[read:hdr.numItems.Load()]...)
		read = 0
		id = BlockID(hdr.next.Load())
	}
	return dst
}

// Dispose frees every block back to the pool. The queue must not be used
// afterwards; doing so panics with ErrDisposed. Dispose is idempotent.
func (q *Queue[T]) Dispose() {
	if !q.disposed.CompareAndSwap(false, true) {
		return
	}
	q.freeChain()
	q.slots = nil
}

// DisposeAfter schedules Dispose to run once dep has completed.
// If dep fails, the queue is still disposed and the handle reports dep's error.
func (q *Queue[T]) DisposeAfter(dep jobs.Handle) jobs.Handle {
	return jobs.Schedule(context.Background(), jobs.Completed(), func(context.Context) error {
		err := dep.Wait()
		q.Dispose()
		return err
	})
}

func (q *Queue[T]) items(id BlockID) []T {
	return layout.View[T](q.pool.Bytes(id))[:q.maxItems]
}

func (q *Queue[T]) checkLive() {
	if q.disposed.Load() {
		panic(parerrors.ErrDisposed)
	}
}
