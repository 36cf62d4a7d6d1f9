// Package errors defines all exported error sentinels for the parcoll library.
//
// This is the single source of truth for error values. The top-level parcoll
// package, the jobs package and the internal packages all import from here,
// so errors.Is checks work across package boundaries.
package errors

import "errors"

// Pool errors
var (
	ErrOutOfMemory       = errors.New("parcoll: block allocation failed")
	ErrPoolExhausted     = errors.New("parcoll: block table is full")
	ErrBlocksOutstanding = errors.New("parcoll: pool closed with blocks still owned by containers")
	ErrInvalidBlock      = errors.New("parcoll: invalid block handle")
	ErrPoolClosed        = errors.New("parcoll: pool is closed")
)

// Construction errors
var (
	ErrNilPool          = errors.New("parcoll: nil block pool")
	ErrInvalidWorkers   = errors.New("parcoll: worker slot count must be positive")
	ErrInvalidCapacity  = errors.New("parcoll: capacity must not be negative")
	ErrManagedElement   = errors.New("parcoll: element type contains pointers")
	ErrElementTooLarge  = errors.New("parcoll: element size must be between 1 byte and the block size")
	ErrInvalidMaxBlocks = errors.New("parcoll: max blocks must not be negative")
)

// Container errors
var (
	ErrEmpty    = errors.New("parcoll: collection is empty")
	ErrDisposed = errors.New("parcoll: collection is disposed")
)

// Job errors
var (
	ErrDependencyFailed = errors.New("parcoll: dependency failed")
	ErrInvalidJob       = errors.New("parcoll: invalid job parameters")
)
