// Package parcoll implements allocator-aware concurrent collections for
// job-parallel code: many workers append without locks, then a single
// coordinator consumes, counts or flattens the result deterministically.
//
// # Basic Usage
//
// Producing into a queue from a parallel job and draining it afterwards:
//
//	pool, err := parcoll.NewPool()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Close()
//
//	q, err := parcoll.NewQueue[Event](pool, parcoll.WithWorkerSlots(workers))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	produced := jobs.ScheduleParallelFor(ctx, jobs.Completed(), workers, len(inputs), 0,
//	    func(_ context.Context, worker, i int) error {
//	        q.Enqueue(process(inputs[i]), worker)
//	        return nil
//	    })
//	if err := produced.Wait(); err != nil {
//	    log.Fatal(err)
//	}
//	for ev, ok := q.TryDequeue(); ok; ev, ok = q.TryDequeue() {
//	    handle(ev)
//	}
//	q.Dispose()
//
// Collecting per-worker results and flattening them in parallel:
//
//	results, err := parcoll.NewPartitionedList[Hit](0, parcoll.WithWorkers(workers))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	produced := jobs.ScheduleParallelFor(ctx, jobs.Completed(), workers, len(rays), 0,
//	    func(_ context.Context, worker, i int) error {
//	        if hit, ok := trace(rays[i]); ok {
//	            results.Write(hit, worker)
//	        }
//	        return nil
//	    })
//	var hits []Hit
//	if err := results.ScheduleMerge(ctx, produced, &hits, workers).Wait(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Element Types
//
// Queue blocks are raw memory outside the Go heap, so element types must be
// fixed-size values without pointers (no strings, slices, maps, interfaces or
// pointers, at any depth). Constructors check this and return
// ErrManagedElement otherwise.
//
// # Package Structure
//
//   - Block pool: pool.go (Pool, AllocateBlock, FreeBlock), block_backing.go, prefault_*.go
//   - Queue: queue.go (Queue, ParallelWriter)
//   - Partitioned list: partitioned_list.go (PartitionedList, ChunkWriter)
//   - Flattening: merge.go (AppendTo, PrepareMerge, MergeParallel, ScheduleMerge)
//   - Verification: digest.go (OrderedDigest, MultisetDigest)
//   - Configuration: options.go (PoolOption, QueueOption, ListOption)
//   - Job layer: jobs/ (Handle, Schedule, ParallelFor)
//   - Errors: errors/ (sentinels for errors.Is)
package parcoll
