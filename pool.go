package parcoll

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"

	parerrors "github.com/tamirms/parcoll/errors"
)

const (
	// BlockSize is the size of every pool block in bytes.
	BlockSize = 16 << 10

	// DefaultMaxBlocks is the default soft cap on blocks kept by a Pool.
	DefaultMaxBlocks = 256

	// Blocks live in a table of lazily allocated fixed-size segments so the
	// table can grow without moving slots that other goroutines are reading.
	tableSegmentBits = 8
	tableSegmentSize = 1 << tableSegmentBits
	tableSegmentMask = tableSegmentSize - 1
	maxTableSegments = 1 << 12 // 1M blocks, 16 GiB of block memory

	cacheLinePad = 64
)

// BlockID is a handle to a pool block. The zero BlockID is the nil handle.
//
// Blocks link to each other by BlockID rather than by pointer; a block has
// exactly one owner at a time (the free list, a queue chain or a worker's
// write slot) and ownership moves with the handle.
type BlockID uint32

const nilBlock BlockID = 0

// blockSlot is the header of one block plus its memory region.
type blockSlot struct {
	next     atomic.Uint32 // BlockID of the next block in whichever list owns this one
	numItems atomic.Int32  // elements written, maintained by the owning container
	mem      []byte        // nil while the slot is vacant
}

type tableSegment [tableSegmentSize]blockSlot

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	NumBlocks      int    // blocks currently held, in use or free
	MaxBlocks      int    // soft cap
	SystemAllocs   uint64 // blocks obtained from the system over the pool's life
	SystemReleases uint64 // blocks returned to the system over the pool's life
}

// Pool is a lock-free pool of BlockSize memory blocks.
//
// Allocation pops the free list under a one-bit spin lock, so only one
// goroutine pops at a time and the pop cannot suffer ABA. Frees push with a
// plain CAS loop and never take the lock. When the free list is empty the pool
// grows without bound; it shrinks back to MaxBlocks lazily, by releasing
// blocks freed while over the cap.
//
// A Pool is shared by every container built on it and is safe for concurrent
// use. Close it once all containers are disposed.
type Pool struct {
	maxBlocks int64
	backing   blockBacking
	logger    *slog.Logger

	_pad0     [cacheLinePad]byte
	allocLock atomic.Bool
	_pad1     [cacheLinePad]byte
	freeHead  atomic.Uint32
	_pad2     [cacheLinePad]byte
	numBlocks atomic.Int64
	_pad3     [cacheLinePad]byte

	vacantHead  atomic.Uint32 // slots whose memory went back to the system
	slotCount   atomic.Uint32
	sysAllocs   atomic.Uint64
	sysReleases atomic.Uint64
	closed      atomic.Bool

	segments [maxTableSegments]atomic.Pointer[tableSegment]
}

// NewPool creates an empty block pool. Blocks are mapped on first use.
func NewPool(opts ...PoolOption) (*Pool, error) {
	cfg := defaultPoolConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxBlocks < 0 {
		return nil, parerrors.ErrInvalidMaxBlocks
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	p := &Pool{
		maxBlocks: int64(cfg.maxBlocks),
		backing:   mmapBacking{},
		logger:    cfg.logger,
	}
	if cfg.heapBlocks {
		p.backing = heapBacking{}
	}
	return p, nil
}

// AllocateBlock returns a block owned by the caller, with an empty header.
//
// Running out of memory is fatal: AllocateBlock panics with an error wrapping
// ErrOutOfMemory. Allocating from a closed pool panics with ErrPoolClosed.
func (p *Pool) AllocateBlock() BlockID {
	if p.closed.Load() {
		panic(parerrors.ErrPoolClosed)
	}

	p.lockAlloc()
	id := p.pop(&p.freeHead)
	fresh := id == nilBlock
	if fresh {
		id = p.pop(&p.vacantHead)
	}
	p.allocLock.Store(false)

	if id == nilBlock {
		id = p.newSlot()
	}
	s := p.slot(id)
	if fresh {
		mem, err := p.backing.alloc(BlockSize)
		if err != nil {
			panic(fmt.Errorf("%w: %w", parerrors.ErrOutOfMemory, err))
		}
		s.mem = mem
		p.numBlocks.Add(1)
		p.sysAllocs.Add(1)
	}
	s.next.Store(uint32(nilBlock))
	s.numItems.Store(0)
	return id
}

// FreeBlock hands a block back to the pool. The caller must own it and must
// not touch it afterwards.
func (p *Pool) FreeBlock(id BlockID) {
	s := p.slot(id)
	if p.closed.Load() {
		p.releaseSlot(id, s)
		p.numBlocks.Add(-1)
		return
	}

	if p.numBlocks.Load() > p.maxBlocks {
		if p.numBlocks.Add(-1) >= p.maxBlocks {
			p.releaseSlot(id, s)
			p.push(&p.vacantHead, id)
			p.logger.Debug("parcoll: released block over cap", "block", id, "maxBlocks", p.maxBlocks)
			return
		}
		// Another free got there first and brought us back under the cap.
		p.numBlocks.Add(1)
	}
	p.push(&p.freeHead, id)
}

// Bytes returns the memory of a block the caller owns.
func (p *Pool) Bytes(id BlockID) []byte {
	return p.slot(id).mem[:BlockSize:BlockSize]
}

// MaxBlocks returns the soft cap on pooled blocks.
func (p *Pool) MaxBlocks() int {
	return int(p.maxBlocks)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		NumBlocks:      int(p.numBlocks.Load()),
		MaxBlocks:      int(p.maxBlocks),
		SystemAllocs:   p.sysAllocs.Load(),
		SystemReleases: p.sysReleases.Load(),
	}
}

// Close releases every free block to the system. Blocks still owned by a
// container are released when that container frees them; Close reports them
// with an error wrapping ErrBlocksOutstanding. Close is idempotent.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.lockAlloc()
	defer p.allocLock.Store(false)

	released := 0
	for id := p.pop(&p.freeHead); id != nilBlock; id = p.pop(&p.freeHead) {
		p.releaseSlot(id, p.slot(id))
		p.numBlocks.Add(-1)
		released++
	}
	p.logger.Debug("parcoll: pool closed", "released", released, "outstanding", p.numBlocks.Load())

	if n := p.numBlocks.Load(); n > 0 {
		return fmt.Errorf("%w: %d blocks", parerrors.ErrBlocksOutstanding, n)
	}
	return nil
}

// lockAlloc spins until this goroutine holds the allocation lock. The lock
// only ever covers a free-list pop, so the wait is short.
func (p *Pool) lockAlloc() {
	for !p.allocLock.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

// pop removes the head of a block list. Callers must hold allocLock: with a
// single popper the head cannot be popped and re-pushed under us.
func (p *Pool) pop(head *atomic.Uint32) BlockID {
	for {
		id := head.Load()
		if BlockID(id) == nilBlock {
			return nilBlock
		}
		next := p.slot(BlockID(id)).next.Load()
		if head.CompareAndSwap(id, next) {
			return BlockID(id)
		}
	}
}

// push adds a block to the head of a block list. Lock-free.
func (p *Pool) push(head *atomic.Uint32, id BlockID) {
	s := p.slot(id)
	for {
		old := head.Load()
		s.next.Store(old)
		if head.CompareAndSwap(old, uint32(id)) {
			return
		}
	}
}

// newSlot reserves a never-used slot, installing its table segment if needed.
func (p *Pool) newSlot() BlockID {
	n := p.slotCount.Add(1)
	if n > maxTableSegments*tableSegmentSize {
		panic(fmt.Errorf("%w: %d blocks", parerrors.ErrPoolExhausted, maxTableSegments*tableSegmentSize))
	}
	seg := &p.segments[(n-1)>>tableSegmentBits]
	if seg.Load() == nil {
		seg.CompareAndSwap(nil, new(tableSegment))
	}
	return BlockID(n)
}

func (p *Pool) slot(id BlockID) *blockSlot {
	if id == nilBlock || uint32(id) > p.slotCount.Load() {
		panic(fmt.Errorf("%w: %d", parerrors.ErrInvalidBlock, id))
	}
	idx := uint32(id) - 1
	seg := p.segments[idx>>tableSegmentBits].Load()
	return &seg[idx&tableSegmentMask]
}

// releaseSlot returns a slot's memory to the system and leaves it vacant.
func (p *Pool) releaseSlot(id BlockID, s *blockSlot) {
	mem := s.mem
	s.mem = nil
	if mem == nil {
		return
	}
	if err := p.backing.release(mem); err != nil {
		p.logger.Warn("parcoll: block release failed", "block", id, "error", err)
	}
	p.sysReleases.Add(1)
}
