package parcoll

import (
	"log/slog"
	"runtime"
)

// PoolOption is a functional option for configuring a Pool.
type PoolOption func(*poolConfig)

// QueueOption is a functional option for configuring a Queue.
type QueueOption func(*queueConfig)

// ListOption is a functional option for configuring a PartitionedList.
type ListOption func(*listConfig)

type poolConfig struct {
	maxBlocks  int
	heapBlocks bool // true to back blocks with the Go heap instead of anonymous mmap
	logger     *slog.Logger
}

type queueConfig struct {
	workers int
}

type listConfig struct {
	workers int
	logger  *slog.Logger
}

func defaultPoolConfig() *poolConfig {
	return &poolConfig{
		maxBlocks: DefaultMaxBlocks,
		logger:    slog.Default(),
	}
}

func defaultQueueConfig() *queueConfig {
	return &queueConfig{
		workers: runtime.GOMAXPROCS(0),
	}
}

func defaultListConfig() *listConfig {
	return &listConfig{
		workers: runtime.GOMAXPROCS(0),
		logger:  slog.Default(),
	}
}

// WithMaxBlocks sets the soft cap on blocks the pool keeps around.
// The pool may grow past it while blocks are in use; blocks freed while the
// pool is over the cap are returned to the system instead of recycled.
func WithMaxBlocks(n int) PoolOption {
	return func(c *poolConfig) {
		c.maxBlocks = n
	}
}

// WithHeapBlocks backs blocks with Go heap allocations instead of anonymous
// memory mappings. Useful on platforms where mmap is restricted and in tests
// that should not touch the address space.
func WithHeapBlocks() PoolOption {
	return func(c *poolConfig) {
		c.heapBlocks = true
	}
}

// WithPoolLogger sets the logger for pool lifecycle events.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(c *poolConfig) {
		c.logger = l
	}
}

// WithWorkerSlots sets how many workers may enqueue concurrently.
// Worker indices passed to Enqueue must be in [0, n).
// Default is runtime.GOMAXPROCS(0).
func WithWorkerSlots(n int) QueueOption {
	return func(c *queueConfig) {
		c.workers = n
	}
}

// WithWorkers sets the number of partitions, one per worker.
// Default is runtime.GOMAXPROCS(0).
func WithWorkers(n int) ListOption {
	return func(c *listConfig) {
		c.workers = n
	}
}

// WithListLogger sets the logger used for chunk-mode misuse diagnostics.
func WithListLogger(l *slog.Logger) ListOption {
	return func(c *listConfig) {
		c.logger = l
	}
}
