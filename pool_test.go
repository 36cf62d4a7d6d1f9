package parcoll

import (
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	parerrors "github.com/tamirms/parcoll/errors"
)

func TestPoolRecyclesBelowCap(t *testing.T) {
	forEachBacking(t, func(t *testing.T, opts []PoolOption) {
		p := newTestPool(t, append(opts, WithMaxBlocks(16))...)

		const outstanding = 10
		ids := make([]BlockID, outstanding)
		for round := range 50 {
			for i := range ids {
				ids[i] = p.AllocateBlock()
			}
			for _, id := range ids {
				p.FreeBlock(id)
			}
			if got := p.Stats().SystemAllocs; got != outstanding {
				t.Fatalf("round %d: SystemAllocs = %d, want %d (pool must recycle)", round, got, outstanding)
			}
		}

		st := p.Stats()
		if st.NumBlocks != outstanding {
			t.Fatalf("NumBlocks = %d, want %d", st.NumBlocks, outstanding)
		}
		if st.SystemReleases != 0 {
			t.Fatalf("SystemReleases = %d, want 0", st.SystemReleases)
		}
	})
}

func TestPoolShrinksToCap(t *testing.T) {
	forEachBacking(t, func(t *testing.T, opts []PoolOption) {
		const maxBlocks = 4
		p := newTestPool(t, append(opts, WithMaxBlocks(maxBlocks))...)

		ids := make([]BlockID, 10)
		for i := range ids {
			ids[i] = p.AllocateBlock()
		}
		if got := p.Stats().NumBlocks; got != 10 {
			t.Fatalf("NumBlocks after growth = %d, want 10 (growth is uncapped)", got)
		}
		for _, id := range ids {
			p.FreeBlock(id)
		}

		st := p.Stats()
		if st.NumBlocks != maxBlocks {
			t.Fatalf("NumBlocks after free = %d, want %d", st.NumBlocks, maxBlocks)
		}
		if st.SystemReleases != 6 {
			t.Fatalf("SystemReleases = %d, want 6", st.SystemReleases)
		}

		// The 4 pooled blocks come back first; the rest reuse vacant slots.
		for i := range ids {
			ids[i] = p.AllocateBlock()
		}
		st = p.Stats()
		if st.SystemAllocs != 16 {
			t.Fatalf("SystemAllocs = %d, want 16", st.SystemAllocs)
		}
		if got := p.slotCount.Load(); got != 10 {
			t.Fatalf("slot table grew to %d, want vacant slots reused (10)", got)
		}
		for _, id := range ids {
			p.FreeBlock(id)
		}
	})
}

func TestPoolBlockMemory(t *testing.T) {
	forEachBacking(t, func(t *testing.T, opts []PoolOption) {
		p := newTestPool(t, opts...)
		a := p.AllocateBlock()
		b := p.AllocateBlock()
		if a == b {
			t.Fatalf("two live allocations share block %d", a)
		}

		ma, mb := p.Bytes(a), p.Bytes(b)
		if len(ma) != BlockSize || cap(ma) != BlockSize {
			t.Fatalf("len/cap(Bytes) = %d/%d, want %d", len(ma), cap(ma), BlockSize)
		}
		for i := range mb {
			if mb[i] != 0 {
				t.Fatalf("fresh block byte %d = %#x, want 0", i, mb[i])
			}
		}
		for i := range ma {
			ma[i] = 0xAA
		}
		mb[0] = 0x55
		if ma[0] != 0xAA {
			t.Fatal("blocks overlap")
		}
		p.FreeBlock(a)
		p.FreeBlock(b)
	})
}

// TestPoolConcurrentOwnership hammers allocate/free from many goroutines and
// checks no block is ever handed to two owners at once.
func TestPoolConcurrentOwnership(t *testing.T) {
	forEachBacking(t, func(t *testing.T, opts []PoolOption) {
		p := newTestPool(t, append(opts, WithMaxBlocks(8))...)

		const (
			goroutines = 8
			iterations = 2000
			held       = 3
		)
		var wg sync.WaitGroup
		errs := make(chan error, goroutines)
		for g := range goroutines {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ids := make([]BlockID, held)
				for it := range iterations {
					stamp := uint64(g)<<32 | uint64(it)
					for i := range ids {
						ids[i] = p.AllocateBlock()
						binary.LittleEndian.PutUint64(p.Bytes(ids[i]), stamp)
					}
					for _, id := range ids {
						if got := binary.LittleEndian.Uint64(p.Bytes(id)); got != stamp {
							errs <- errors.New("block written by another owner")
							return
						}
						p.FreeBlock(id)
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Fatal(err)
		}

		if got := p.Stats().NumBlocks; got > 8 {
			t.Fatalf("NumBlocks = %d after all frees, want <= 8", got)
		}
	})
}

func TestPoolClose(t *testing.T) {
	p, err := NewPool(WithHeapBlocks())
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	kept := p.AllocateBlock()
	p.FreeBlock(p.AllocateBlock())

	err = p.Close()
	if !errors.Is(err, parerrors.ErrBlocksOutstanding) {
		t.Fatalf("Close = %v, want ErrBlocksOutstanding", err)
	}
	if got := p.Stats().NumBlocks; got != 1 {
		t.Fatalf("NumBlocks after Close = %d, want 1", got)
	}

	// Late frees after Close release straight to the system.
	p.FreeBlock(kept)
	if got := p.Stats().NumBlocks; got != 0 {
		t.Fatalf("NumBlocks after late free = %d, want 0", got)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close = %v, want nil", err)
	}

	mustPanicWith(t, parerrors.ErrPoolClosed, func() { p.AllocateBlock() })
}

func TestPoolInvalid(t *testing.T) {
	if _, err := NewPool(WithMaxBlocks(-1)); !errors.Is(err, parerrors.ErrInvalidMaxBlocks) {
		t.Fatalf("NewPool(-1) = %v, want ErrInvalidMaxBlocks", err)
	}
	p := newTestPool(t, WithHeapBlocks())
	mustPanicWith(t, parerrors.ErrInvalidBlock, func() { p.FreeBlock(0) })
	mustPanicWith(t, parerrors.ErrInvalidBlock, func() { p.Bytes(42) })
}
