// Package bufpool wraps a block allocator with reference-counted message
// descriptors. One descriptor backs a message for every pipe it is queued
// on; the block goes back to the allocator exactly once, when the last
// reference is released.
package bufpool

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/billm/baaaht/softbus/internal/logger"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// Allocator hands out raw blocks. *blockpool.Pool satisfies it.
type Allocator interface {
	Get(size int) ([]byte, error)
	Put(block []byte) error
	Info(block []byte) (int, error)
}

// Pool is safe for concurrent use
type Pool struct {
	mu       sync.Mutex
	alloc    Allocator
	logger   *logger.Logger
	zeroCopy map[*byte]*Descriptor
	stats    Stats
}

// New creates a pool drawing blocks from alloc
func New(alloc Allocator, log *logger.Logger) (*Pool, error) {
	if alloc == nil {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "allocator cannot be nil")
	}
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}
	return &Pool{
		alloc:    alloc,
		logger:   log.With("component", "buffer_pool"),
		zeroCopy: make(map[*byte]*Descriptor),
	}, nil
}

// Acquire allocates a descriptor with room for size bytes and a reference
// count of one
func (p *Pool) Acquire(size int) (*Descriptor, error) {
	if size <= 0 {
		return nil, types.NewError(types.ErrCodeBadArgument, fmt.Sprintf("invalid buffer size %d", size))
	}

	block, err := p.alloc.Get(size)
	if err != nil {
		p.mu.Lock()
		p.stats.AllocErrors++
		p.mu.Unlock()
		return nil, types.WrapError(types.ErrCodeBufAllocError,
			fmt.Sprintf("cannot allocate %d byte buffer", size), err)
	}

	d := &Descriptor{refs: 1, size: size, block: block}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Acquired++
	p.stats.BufsInUse++
	p.stats.MemInUse += cap(block)
	if p.stats.BufsInUse > p.stats.PeakBufsInUse {
		p.stats.PeakBufsInUse = p.stats.BufsInUse
	}
	if p.stats.MemInUse > p.stats.PeakMemInUse {
		p.stats.PeakMemInUse = p.stats.MemInUse
	}
	return d, nil
}

// AddRef takes another reference on d
func (p *Pool) AddRef(d *Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d == nil || d.freed || d.refs <= 0 {
		return types.NewError(types.ErrCodeBufferInvalid, "add reference to released buffer")
	}
	d.refs++
	return nil
}

// Release drops one reference on d, freeing the block when none remain. A
// failing allocator Put is logged and counted; the descriptor is gone either
// way.
func (p *Pool) Release(d *Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if d == nil || d.freed || d.refs <= 0 {
		p.stats.InvalidReleases++
		p.logger.Error("Release of invalid buffer descriptor")
		return types.NewError(types.ErrCodeBufferInvalid, "release of released buffer")
	}

	d.refs--
	if d.refs > 0 {
		return nil
	}

	p.free(d)
	return nil
}

// free returns d's block to the allocator. Callers hold p.mu.
func (p *Pool) free(d *Descriptor) {
	d.freed = true
	if d.zcopy {
		delete(p.zeroCopy, unsafe.SliceData(d.block))
		d.zcopy = false
		p.stats.ZeroCopyInUse--
	}

	p.stats.Freed++
	p.stats.BufsInUse--
	p.stats.MemInUse -= cap(d.block)

	if err := p.alloc.Put(d.block); err != nil {
		p.stats.FreeErrors++
		p.logger.Error("Failed to return block to allocator", "size", d.size, "error", err)
	}
	d.block = d.block[:0]
}

// RefCount returns the live reference count of d
func (p *Pool) RefCount(d *Descriptor) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d.freed {
		return 0
	}
	return d.refs
}

// Track registers d as a zero-copy buffer owned by task
func (p *Pool) Track(d *Descriptor, owner types.TaskID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !d.zcopy {
		p.stats.ZeroCopyInUse++
	}
	d.zcopy = true
	d.owner = owner
	p.zeroCopy[unsafe.SliceData(d.block)] = d
}

// Untrack removes d from zero-copy bookkeeping without releasing it. It
// reports whether d was tracked.
func (p *Pool) Untrack(d *Descriptor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.untrack(d)
}

// untrack is Untrack for callers holding p.mu
func (p *Pool) untrack(d *Descriptor) bool {
	if !d.zcopy {
		return false
	}
	delete(p.zeroCopy, unsafe.SliceData(d.block))
	d.zcopy = false
	d.owner = types.InvalidTaskID
	p.stats.ZeroCopyInUse--
	return true
}

// lookup resolves msg to a tracked descriptor. Callers hold p.mu.
func (p *Pool) lookup(msg []byte) (*Descriptor, error) {
	if cap(msg) == 0 {
		return nil, types.NewError(types.ErrCodeBufferInvalid, "nil buffer")
	}
	d, ok := p.zeroCopy[unsafe.SliceData(msg)]
	if !ok {
		return nil, types.NewError(types.ErrCodeBufferInvalid, "buffer is not an allocated message buffer")
	}
	if _, err := p.alloc.Info(d.block); err != nil {
		return nil, types.WrapError(types.ErrCodeBufferInvalid, "buffer failed allocator validation", err)
	}
	return d, nil
}

// Lookup resolves a zero-copy message back to its descriptor. Nil, foreign
// and already released buffers are rejected.
func (p *Pool) Lookup(msg []byte) (*Descriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lookup(msg)
}

// Claim resolves msg to the zero-copy descriptor held by owner and untracks
// it in the same step, handing the caller's reference to the claimant. Only
// one of several concurrent claims of a buffer succeeds; the others, and
// claims by any other task, get BUFFER_INVALID.
func (p *Pool) Claim(msg []byte, owner types.TaskID) (*Descriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, err := p.lookup(msg)
	if err != nil {
		return nil, err
	}
	if d.owner != owner {
		return nil, types.NewError(types.ErrCodeBufferInvalid,
			fmt.Sprintf("buffer is held by %s, not %s", d.owner, owner))
	}
	p.untrack(d)
	return d, nil
}

// OwnedBy returns the zero-copy buffers held by task
func (p *Pool) OwnedBy(task types.TaskID) []*Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Descriptor
	for _, d := range p.zeroCopy {
		if d.owner == task {
			out = append(out, d)
		}
	}
	return out
}

// ZeroCopy returns every tracked zero-copy buffer
func (p *Pool) ZeroCopy() []*Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*Descriptor, 0, len(p.zeroCopy))
	for _, d := range p.zeroCopy {
		out = append(out, d)
	}
	return out
}

// Stats returns statistics about the pool
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Stats represents buffer pool statistics. Peaks never decrease.
type Stats struct {
	BufsInUse       int    `json:"bufs_in_use" yaml:"bufs_in_use" msgpack:"bufs_in_use"`
	PeakBufsInUse   int    `json:"peak_bufs_in_use" yaml:"peak_bufs_in_use" msgpack:"peak_bufs_in_use"`
	MemInUse        int    `json:"mem_in_use" yaml:"mem_in_use" msgpack:"mem_in_use"`
	PeakMemInUse    int    `json:"peak_mem_in_use" yaml:"peak_mem_in_use" msgpack:"peak_mem_in_use"`
	ZeroCopyInUse   int    `json:"zero_copy_in_use" yaml:"zero_copy_in_use" msgpack:"zero_copy_in_use"`
	Acquired        uint64 `json:"acquired" yaml:"acquired" msgpack:"acquired"`
	Freed           uint64 `json:"freed" yaml:"freed" msgpack:"freed"`
	AllocErrors     uint64 `json:"alloc_errors" yaml:"alloc_errors" msgpack:"alloc_errors"`
	FreeErrors      uint64 `json:"free_errors" yaml:"free_errors" msgpack:"free_errors"`
	InvalidReleases uint64 `json:"invalid_releases" yaml:"invalid_releases" msgpack:"invalid_releases"`
}

// String returns a string representation of the stats
func (s Stats) String() string {
	return fmt.Sprintf("BufPoolStats{InUse: %d (peak %d), Mem: %d (peak %d), ZeroCopy: %d, AllocErrors: %d, FreeErrors: %d}",
		s.BufsInUse, s.PeakBufsInUse, s.MemInUse, s.PeakMemInUse, s.ZeroCopyInUse, s.AllocErrors, s.FreeErrors)
}
