// Bench is a benchmarking and soak tool for the parcoll collections: it
// measures multi-producer queue throughput, chunked partitioned-list writes,
// and serial vs parallel flattening, and verifies every phase with digests.
//
// Usage:
//
//	go run ./cmd/bench -items 10000000 -workers 8 -chunks 4096
//
// Flags:
//
//	-items      Number of values produced per phase (default: 10,000,000)
//	-workers    Number of worker slots (default: GOMAXPROCS)
//	-chunks     Number of chunks in the partitioned-list phase (default: 4096)
//	-maxblocks  Pool soft cap in blocks (default: 256)
//	-heap       Back pool blocks with the Go heap instead of mmap
//	-keep       Keep 1 in N values in the filtering phase (default: 4)
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/tamirms/parcoll"
	"github.com/tamirms/parcoll/internal/bits"
	"github.com/tamirms/parcoll/jobs"
)

// getMaxRSS returns the maximum resident set size in bytes.
// Uses getrusage(RUSAGE_SELF) which tracks peak RSS since process start.
func getMaxRSS() uint64 {
	var rusage syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &rusage); err != nil {
		return 0
	}
	// On macOS, MaxRss is in bytes. On Linux, it's in kilobytes.
	maxRSS := uint64(rusage.Maxrss)
	if runtime.GOOS == "linux" {
		maxRSS *= 1024
	}
	return maxRSS
}

type phaseResult struct {
	name     string
	duration time.Duration
	items    int
}

func main() {
	itemsFlag := flag.Int("items", 10_000_000, "number of values produced per phase")
	workersFlag := flag.Int("workers", runtime.GOMAXPROCS(0), "number of worker slots")
	chunksFlag := flag.Int("chunks", 4096, "number of chunks in the partitioned-list phase")
	maxBlocksFlag := flag.Int("maxblocks", parcoll.DefaultMaxBlocks, "pool soft cap in blocks")
	heapFlag := flag.Bool("heap", false, "back pool blocks with the Go heap instead of mmap")
	keepFlag := flag.Int("keep", 4, "keep 1 in N values in the filtering phase")
	seedFlag := flag.Uint("seed", 0x1234, "murmur3 seed for value generation")
	cpuprofile := flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile := flag.String("memprofile", "", "write memory profile to file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(logger, config{
		items:      *itemsFlag,
		workers:    *workersFlag,
		chunks:     *chunksFlag,
		maxBlocks:  *maxBlocksFlag,
		heap:       *heapFlag,
		keep:       *keepFlag,
		seed:       uint32(*seedFlag),
		cpuprofile: *cpuprofile,
		memprofile: *memprofile,
	}); err != nil {
		logger.Error("bench failed", "error", err)
		os.Exit(1)
	}
}

type config struct {
	items      int
	workers    int
	chunks     int
	maxBlocks  int
	heap       bool
	keep       int
	seed       uint32
	cpuprofile string
	memprofile string
}

func run(logger *slog.Logger, cfg config) error {
	if cfg.items <= 0 || cfg.workers <= 0 || cfg.chunks <= 0 || cfg.keep <= 0 {
		return fmt.Errorf("items, workers, chunks and keep must be positive")
	}
	ctx := context.Background()

	logger.Info("generating values", "items", cfg.items, "seed", cfg.seed)
	values := generateValues(cfg.items, cfg.seed)
	baselineRSS := getMaxRSS()

	poolOpts := []parcoll.PoolOption{parcoll.WithMaxBlocks(cfg.maxBlocks), parcoll.WithPoolLogger(logger)}
	if cfg.heap {
		poolOpts = append(poolOpts, parcoll.WithHeapBlocks())
	}
	pool, err := parcoll.NewPool(poolOpts...)
	if err != nil {
		return err
	}

	if cfg.cpuprofile != "" {
		f, err := os.Create(cfg.cpuprofile)
		if err != nil {
			return fmt.Errorf("create CPU profile: %w", err)
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}

	var results []phaseResult

	queueResults, err := benchQueue(ctx, logger, pool, values, cfg.workers)
	if err != nil {
		return err
	}
	results = append(results, queueResults...)

	listResults, err := benchChunkedList(ctx, logger, values, cfg)
	if err != nil {
		return err
	}
	results = append(results, listResults...)

	if cfg.memprofile != "" {
		if err := writeHeapProfile(cfg.memprofile); err != nil {
			logger.Warn("could not write memory profile", "error", err)
		}
	}

	stats := pool.Stats()
	if err := pool.Close(); err != nil {
		return fmt.Errorf("pool close: %w", err)
	}
	printReport(cfg, results, stats, getMaxRSS()-baselineRSS)
	return nil
}

// generateValues derives n well-mixed values from their indices with murmur3.
func generateValues(n int, seed uint32) []uint64 {
	values := make([]uint64, n)
	var buf [8]byte
	for i := range values {
		binary.LittleEndian.PutUint64(buf[:], uint64(i))
		values[i] = murmur3.Sum64WithSeed(buf[:], seed)
	}
	return values
}

func benchQueue(ctx context.Context, logger *slog.Logger, pool *parcoll.Pool, values []uint64, workers int) ([]phaseResult, error) {
	q, err := parcoll.NewQueue[uint64](pool, parcoll.WithWorkerSlots(workers))
	if err != nil {
		return nil, err
	}

	logger.Info("queue: enqueue", "workers", workers)
	start := time.Now()
	produced := jobs.ScheduleParallelFor(ctx, jobs.Completed(), workers, len(values), 0, func(_ context.Context, worker, i int) error {
		q.Enqueue(values[i], worker)
		return nil
	})
	if err := produced.Wait(); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	enqueue := time.Since(start)

	if got := q.Count(); got != len(values) {
		return nil, fmt.Errorf("queue count %d, want %d", got, len(values))
	}

	logger.Info("queue: drain")
	start = time.Now()
	drained := make([]uint64, 0, len(values))
	for v, ok := q.TryDequeue(); ok; v, ok = q.TryDequeue() {
		drained = append(drained, v)
	}
	drain := time.Since(start)

	if parcoll.MultisetDigest(drained) != parcoll.MultisetDigest(values) {
		return nil, fmt.Errorf("queue drain lost or duplicated values")
	}
	if err := q.DisposeAfter(produced).Wait(); err != nil {
		return nil, err
	}

	return []phaseResult{
		{"Queue enqueue", enqueue, len(values)},
		{"Queue drain", drain, len(values)},
	}, nil
}

func benchChunkedList(ctx context.Context, logger *slog.Logger, values []uint64, cfg config) ([]phaseResult, error) {
	list, err := parcoll.NewPartitionedList[uint64](0, parcoll.WithWorkers(cfg.workers), parcoll.WithListLogger(logger))
	if err != nil {
		return nil, err
	}
	defer list.Dispose()

	perChunk := bits.CeilDiv(len(values), cfg.chunks)
	keep := func(v uint64) bool { return bits.FastRange32(v, uint32(cfg.keep)) == 0 }

	logger.Info("list: chunked filter", "chunks", cfg.chunks, "perChunk", perChunk)
	list.SetChunkCount(cfg.chunks)
	start := time.Now()
	err = jobs.ParallelFor(ctx, cfg.workers, cfg.chunks, 0, func(_ context.Context, worker, chunk int) error {
		w := list.ChunkWriter(worker)
		w.BeginChunk(chunk)
		lo := min(chunk*perChunk, len(values))
		hi := min(lo+perChunk, len(values))
		for _, v := range values[lo:hi] {
			if keep(v) {
				w.Write(v)
			}
		}
		w.EndChunk()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chunked write: %w", err)
	}
	write := time.Since(start)

	// Reading chunks in order reproduces the input order of kept values.
	var expected []uint64
	for _, v := range values {
		if keep(v) {
			expected = append(expected, v)
		}
	}
	inOrder := make([]uint64, 0, list.Len())
	for c := range list.ChunkCount() {
		inOrder = append(inOrder, list.ChunkItems(c)...)
	}
	if parcoll.OrderedDigest(inOrder) != parcoll.OrderedDigest(expected) {
		return nil, fmt.Errorf("chunk-ordered read does not match input order")
	}

	logger.Info("list: serial merge")
	start = time.Now()
	serial := list.ToSlice()
	serialDur := time.Since(start)

	logger.Info("list: parallel merge")
	start = time.Now()
	parallel, err := list.MergeParallel(ctx, nil, cfg.workers)
	if err != nil {
		return nil, fmt.Errorf("parallel merge: %w", err)
	}
	parallelDur := time.Since(start)

	if parcoll.OrderedDigest(serial) != parcoll.OrderedDigest(parallel) {
		return nil, fmt.Errorf("parallel merge differs from serial merge")
	}
	if parcoll.MultisetDigest(serial) != parcoll.MultisetDigest(expected) {
		return nil, fmt.Errorf("merge lost or duplicated values")
	}

	return []phaseResult{
		{"List chunked write", write, len(values)},
		{"List serial merge", serialDur, len(serial)},
		{"List parallel merge", parallelDur, len(parallel)},
	}, nil
}

func writeHeapProfile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}

func printReport(cfg config, results []phaseResult, stats parcoll.PoolStats, rss uint64) {
	fmt.Printf("\n")
	fmt.Printf("╔═════════════════════╦════════════════╦══════════════════╗\n")
	fmt.Printf("║ Workers: %-11d║ Items: %-8d║ Chunks: %-9d║\n", cfg.workers, cfg.items, cfg.chunks)
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	fmt.Printf("║ Phase               ║ Time           ║ Throughput       ║\n")
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	for _, r := range results {
		fmt.Printf("║ %-19s ║ %8.2f ms    ║ %8.2f M/sec   ║\n",
			r.name, float64(r.duration.Microseconds())/1000, float64(r.items)/r.duration.Seconds()/1_000_000)
	}
	fmt.Printf("╠═════════════════════╬════════════════╬══════════════════╣\n")
	fmt.Printf("║ Pool blocks held    ║ %8d       ║ cap %-12d ║\n", stats.NumBlocks, stats.MaxBlocks)
	fmt.Printf("║ System allocs       ║ %8d       ║ -                ║\n", stats.SystemAllocs)
	fmt.Printf("║ System releases     ║ %8d       ║ -                ║\n", stats.SystemReleases)
	fmt.Printf("║ Peak RSS growth     ║ %8.1f MB    ║ -                ║\n", float64(rss)/1_000_000)
	fmt.Printf("╚═════════════════════╩════════════════╩══════════════════╝\n")
}
