// Package blockpool is a fixed-budget block allocator with size classes.
//
// Blocks are carved from the budget on first use and recycled per class
// afterwards; memory once carved is never returned to the runtime. Every
// outstanding block is tracked so Put and Info can reject foreign or
// already-freed blocks.
package blockpool

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/billm/baaaht/softbus/pkg/types"
)

var (
	// ErrNoMemory is returned when the budget cannot fit another block
	ErrNoMemory = types.NewError(types.ErrCodeResourceExhausted, "block pool memory exhausted")
	// ErrTooLarge is returned when a request exceeds the largest size class
	ErrTooLarge = types.NewError(types.ErrCodeInvalidArgument, "requested size exceeds largest block")
	// ErrUnknownBlock is returned for blocks this pool did not hand out, or
	// that were already returned
	ErrUnknownBlock = types.NewError(types.ErrCodeNotFound, "block not allocated from this pool")
)

// Pool is safe for concurrent use
type Pool struct {
	mu     sync.Mutex
	sizes  []int
	free   [][][]byte
	live   map[*byte]int // block start -> size class index
	budget int
	carved int

	inUse     int
	memInUse  int
	peakInUse int
	peakMem   int
	allocs    uint64
	frees     uint64
	failures  uint64
}

// New creates a pool limited to budget bytes with the given ascending size classes
func New(budget int, sizes []int) (*Pool, error) {
	if budget <= 0 {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "block pool budget must be positive")
	}
	if len(sizes) == 0 || !sort.IntsAreSorted(sizes) || sizes[0] <= 0 {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("block sizes must be positive and ascending: %v", sizes))
	}

	s := make([]int, len(sizes))
	copy(s, sizes)
	return &Pool{
		sizes:  s,
		free:   make([][][]byte, len(s)),
		live:   make(map[*byte]int),
		budget: budget,
	}, nil
}

// classFor returns the index of the smallest class holding size bytes, or -1
func (p *Pool) classFor(size int) int {
	i := sort.SearchInts(p.sizes, size)
	if i == len(p.sizes) {
		return -1
	}
	return i
}

// Get returns a block of at least size bytes. The returned slice has length
// size and capacity equal to the block's class size.
func (p *Pool) Get(size int) ([]byte, error) {
	if size <= 0 {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "block size must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	class := p.classFor(size)
	if class < 0 {
		p.failures++
		return nil, ErrTooLarge
	}
	classSize := p.sizes[class]

	var blk []byte
	if n := len(p.free[class]); n > 0 {
		blk = p.free[class][n-1]
		p.free[class] = p.free[class][:n-1]
	} else {
		if p.carved+classSize > p.budget {
			p.failures++
			return nil, ErrNoMemory
		}
		blk = make([]byte, classSize)
		p.carved += classSize
	}

	p.live[unsafe.SliceData(blk)] = class
	p.allocs++
	p.inUse++
	p.memInUse += classSize
	if p.inUse > p.peakInUse {
		p.peakInUse = p.inUse
	}
	if p.memInUse > p.peakMem {
		p.peakMem = p.memInUse
	}

	return blk[:size:classSize], nil
}

// Put returns blk to its class. The block is zeroed.
func (p *Pool) Put(blk []byte) error {
	if cap(blk) == 0 {
		return ErrUnknownBlock
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := unsafe.SliceData(blk)
	class, ok := p.live[key]
	if !ok {
		return ErrUnknownBlock
	}
	delete(p.live, key)

	full := blk[:cap(blk)]
	clear(full)
	p.free[class] = append(p.free[class], full)

	p.frees++
	p.inUse--
	p.memInUse -= p.sizes[class]
	return nil
}

// Info returns the class size of an outstanding block
func (p *Pool) Info(blk []byte) (int, error) {
	if cap(blk) == 0 {
		return 0, ErrUnknownBlock
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	class, ok := p.live[unsafe.SliceData(blk)]
	if !ok {
		return 0, ErrUnknownBlock
	}
	return p.sizes[class], nil
}

// Stats returns statistics about the pool
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Budget:        p.budget,
		Carved:        p.carved,
		BlocksInUse:   p.inUse,
		PeakBlocks:    p.peakInUse,
		MemInUse:      p.memInUse,
		PeakMemInUse:  p.peakMem,
		Allocations:   p.allocs,
		Frees:         p.frees,
		AllocFailures: p.failures,
	}
}

// Stats represents block pool statistics
type Stats struct {
	Budget        int    `json:"budget" yaml:"budget"`
	Carved        int    `json:"carved" yaml:"carved"`
	BlocksInUse   int    `json:"blocks_in_use" yaml:"blocks_in_use"`
	PeakBlocks    int    `json:"peak_blocks" yaml:"peak_blocks"`
	MemInUse      int    `json:"mem_in_use" yaml:"mem_in_use"`
	PeakMemInUse  int    `json:"peak_mem_in_use" yaml:"peak_mem_in_use"`
	Allocations   uint64 `json:"allocations" yaml:"allocations"`
	Frees         uint64 `json:"frees" yaml:"frees"`
	AllocFailures uint64 `json:"alloc_failures" yaml:"alloc_failures"`
}

// String returns a string representation of the stats
func (s Stats) String() string {
	return fmt.Sprintf("BlockPoolStats{InUse: %d, Mem: %d/%d, Peak: %d, Allocs: %d, Frees: %d, Failures: %d}",
		s.BlocksInUse, s.MemInUse, s.Budget, s.PeakMemInUse, s.Allocations, s.Frees, s.AllocFailures)
}
