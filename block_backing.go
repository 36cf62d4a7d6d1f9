package parcoll

import (
	"fmt"

	"github.com/edsrzf/mmap-go"
)

// blockBacking is where block memory comes from and goes back to.
type blockBacking interface {
	alloc(size int) ([]byte, error)
	release(mem []byte) error
}

// mmapBacking maps each block as its own anonymous region. Block memory is
// invisible to the garbage collector and returned to the OS on release.
type mmapBacking struct{}

func (mmapBacking) alloc(size int) ([]byte, error) {
	mm, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, fmt.Errorf("map anonymous block: %w", err)
	}
	// Blocks are written right after allocation; fault the pages in now.
	prefaultRegion(mm)
	return []byte(mm), nil
}

func (mmapBacking) release(mem []byte) error {
	mm := mmap.MMap(mem)
	if err := mm.Unmap(); err != nil {
		return fmt.Errorf("unmap block: %w", err)
	}
	return nil
}

// heapBacking allocates blocks on the Go heap. Release drops the reference.
type heapBacking struct{}

func (heapBacking) alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (heapBacking) release([]byte) error {
	return nil
}
