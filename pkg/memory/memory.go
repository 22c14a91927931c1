// Package memory accounts for the bytes held by outbound transport buffers.
//
// A Budget stands in for the device heap: every snapshot and live frame is
// allocated as an exact-size Block against it and returned once the
// transport has written (or purged) it. Each Block records the bytes its
// allocation charged against the heap, which is how the snapshot path spots
// a bad allocation without reading a global before/after delta.
package memory

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

var (
	// ErrOutOfMemory is returned when an allocation does not fit the budget.
	ErrOutOfMemory = errors.New("memory: out of memory")

	// ErrInvalidSize is returned for negative allocation sizes.
	ErrInvalidSize = errors.New("memory: invalid size")
)

// Heap hands out exact-size blocks and reports how much is left.
type Heap interface {
	// Free returns the number of bytes that can still be allocated.
	Free() int

	// Alloc returns a block of exactly n bytes. Block.Cost reports what the
	// allocation charged.
	Alloc(n int) (*Block, error)
}

// Budget is a Heap with an optional byte limit.
type Budget struct {
	limit int
	used  atomic.Int64
	peak  atomic.Int64

	allocs   atomic.Uint64
	failures atomic.Uint64
}

// NewBudget creates a budget of limit bytes. A limit of 0 means unlimited,
// in which case Free reports the free memory of the host.
func NewBudget(limit int) *Budget {
	if limit < 0 {
		limit = 0
	}
	return &Budget{limit: limit}
}

// Limit returns the configured limit (0 = unlimited).
func (b *Budget) Limit() int {
	return b.limit
}

// Used returns the bytes currently held by live blocks.
func (b *Budget) Used() int {
	return int(b.used.Load())
}

// Free implements Heap.
func (b *Budget) Free() int {
	if b.limit == 0 {
		if free := systemFree(); free >= 0 {
			return free
		}
		return math.MaxInt
	}
	return b.limit - int(b.used.Load())
}

// Alloc implements Heap.
func (b *Budget) Alloc(n int) (*Block, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, n)
	}
	for {
		used := b.used.Load()
		next := used + int64(n)
		if b.limit > 0 && next > int64(b.limit) {
			b.failures.Add(1)
			return nil, fmt.Errorf("%w: want %d, free %d", ErrOutOfMemory, n, int64(b.limit)-used)
		}
		if b.used.CompareAndSwap(used, next) {
			for {
				peak := b.peak.Load()
				if next <= peak || b.peak.CompareAndSwap(peak, next) {
					break
				}
			}
			break
		}
	}
	b.allocs.Add(1)
	return NewBlock(n, n, b.release), nil
}

func (b *Budget) release(n int) {
	b.used.Add(-int64(n))
}

// Stats is a point-in-time view of a budget.
type Stats struct {
	Limit    int    `json:"limit"`
	Used     int    `json:"used"`
	Peak     int    `json:"peak"`
	Allocs   uint64 `json:"allocs"`
	Failures uint64 `json:"failures"`
}

// Stats returns budget counters.
func (b *Budget) Stats() Stats {
	return Stats{
		Limit:    b.limit,
		Used:     int(b.used.Load()),
		Peak:     int(b.peak.Load()),
		Allocs:   b.allocs.Load(),
		Failures: b.failures.Load(),
	}
}

// Block is a reference-counted buffer allocated from a Heap.
// The bytes go back to the heap when the last reference is released.
type Block struct {
	data []byte
	cost int
	free func(cost int)
	refs atomic.Int32
}

// NewBlock returns a block of n bytes whose allocation charged cost bytes.
// free, if not nil, is called with cost once the last reference is gone.
// Budget uses it; other Heap implementations may too.
func NewBlock(n, cost int, free func(cost int)) *Block {
	blk := &Block{data: make([]byte, n), cost: cost, free: free}
	blk.refs.Store(1)
	return blk
}

// Bytes returns the block contents.
func (blk *Block) Bytes() []byte {
	if blk == nil {
		return nil
	}
	return blk.data
}

// Len returns the block size.
func (blk *Block) Len() int {
	if blk == nil {
		return 0
	}
	return len(blk.data)
}

// Cost returns the bytes the allocation charged against its heap.
func (blk *Block) Cost() int {
	if blk == nil {
		return 0
	}
	return blk.cost
}

// Retain adds a reference. Each Retain must be paired with a Release.
func (blk *Block) Retain() *Block {
	if blk != nil {
		blk.refs.Add(1)
	}
	return blk
}

// Release drops a reference. Extra releases are ignored.
func (blk *Block) Release() {
	if blk == nil {
		return
	}
	for {
		refs := blk.refs.Load()
		if refs <= 0 {
			return
		}
		if blk.refs.CompareAndSwap(refs, refs-1) {
			if refs == 1 && blk.free != nil {
				blk.free(blk.cost)
			}
			return
		}
	}
}
