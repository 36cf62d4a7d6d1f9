package parcoll

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math/rand/v2"
	"testing"
)

// Named seeds for deterministic reproduction.
const (
	testSeed1 = 0x1234567890ABCDEF
	testSeed2 = 0xFEDCBA9876543210
)

// newTestRNG returns a PCG generator seeded from the test name, so every test
// gets its own reproducible stream.
func newTestRNG(t testing.TB) *rand.Rand {
	t.Helper()
	h := fnv.New128a()
	h.Write([]byte(t.Name()))
	sum := h.Sum(nil)
	s1 := binary.LittleEndian.Uint64(sum[:8])
	s2 := binary.LittleEndian.Uint64(sum[8:])
	return rand.New(rand.NewPCG(testSeed1^s1, testSeed2^s2))
}

// forEachBacking runs fn once per block backing.
func forEachBacking(t *testing.T, fn func(t *testing.T, opts []PoolOption)) {
	t.Helper()
	backings := []struct {
		name string
		opts []PoolOption
	}{
		{"mmap", nil},
		{"heap", []PoolOption{WithHeapBlocks()}},
	}
	for _, b := range backings {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.opts)
		})
	}
}

// newTestPool creates a pool that is closed when the test ends. Tests must
// dispose every container first; a leaked block fails the test.
func newTestPool(t testing.TB, opts ...PoolOption) *Pool {
	t.Helper()
	p, err := NewPool(append([]PoolOption{WithPoolLogger(discardLogger())}, opts...)...)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(func() {
		if err := p.Close(); err != nil {
			t.Errorf("pool Close: %v", err)
		}
	})
	return p
}

// newTestQueue creates a queue disposed when the test ends.
func newTestQueue[T any](t testing.TB, p *Pool, opts ...QueueOption) *Queue[T] {
	t.Helper()
	q, err := NewQueue[T](p, opts...)
	if err != nil {
		t.Fatalf("NewQueue: %v", err)
	}
	t.Cleanup(q.Dispose)
	return q
}

// newTestList creates a partitioned list with diagnostics discarded.
func newTestList[T any](t testing.TB, workers, capacity int) *PartitionedList[T] {
	t.Helper()
	l, err := NewPartitionedList[T](capacity, WithWorkers(workers), WithListLogger(discardLogger()))
	if err != nil {
		t.Fatalf("NewPartitionedList: %v", err)
	}
	return l
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mustPanicWith fails the test unless fn panics with an error matching want.
func mustPanicWith(t *testing.T, want error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic with %v, got none", want)
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("panic value %v is not an error", r)
		}
		if !errors.Is(err, want) {
			t.Fatalf("panic %v, want %v", err, want)
		}
	}()
	fn()
}

// countValues returns a histogram of values, for multiset comparisons.
func countValues[T comparable](values []T) map[T]int {
	m := make(map[T]int, len(values))
	for _, v := range values {
		m[v]++
	}
	return m
}

// sameMultiset reports the first difference between two histograms.
func sameMultiset[T comparable](got, want map[T]int) error {
	for k, n := range want {
		if got[k] != n {
			return fmt.Errorf("value %v: got %d copies, want %d", k, got[k], n)
		}
	}
	for k, n := range got {
		if _, ok := want[k]; !ok {
			return fmt.Errorf("unexpected value %v (%d copies)", k, n)
		}
	}
	return nil
}
