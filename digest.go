package parcoll

import (
	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/xxh3"

	"github.com/tamirms/parcoll/internal/layout"
)

// multisetCountMix spreads the element count over all 64 bits.
const multisetCountMix = 0x9E3779B97F4A7C15

// OrderedDigest hashes the raw bytes of values, in order, with XXH3-64.
// Two slices have the same digest when they hold the same bytes in the same
// order, e.g. the outputs of AppendTo and MergeParallel on the same list.
//
// Digests cover padding bytes inside T; compare digests only between copies
// of the same elements.
func OrderedDigest[T any](values []T) uint64 {
	return xxh3.Hash(layout.Bytes(values))
}

// MultisetDigest is an order-independent digest of values: the wrapping sum
// of the xxHash64 of each element's bytes, mixed with the element count.
// Use it to check that a flatten or a drain kept exactly the same elements
// when the order is unspecified.
func MultisetDigest[T any](values []T) uint64 {
	size := layout.Size[T]()
	raw := layout.Bytes(values)
	var sum uint64
	for off := 0; off < len(raw); off += size {
		sum += xxhash.Sum64(raw[off : off+size])
	}
	return sum ^ uint64(len(values))*multisetCountMix
}
