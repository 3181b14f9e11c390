package blockpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidates(t *testing.T) {
	_, err := New(0, []int{8})
	assert.Error(t, err)
	_, err = New(1024, nil)
	assert.Error(t, err)
	_, err = New(1024, []int{64, 16})
	assert.Error(t, err)
}

func TestGetPicksSmallestClass(t *testing.T) {
	p, err := New(4096, []int{16, 64, 256})
	require.NoError(t, err)

	blk, err := p.Get(20)
	require.NoError(t, err)
	assert.Len(t, blk, 20)
	assert.Equal(t, 64, cap(blk))

	size, err := p.Info(blk)
	require.NoError(t, err)
	assert.Equal(t, 64, size)

	_, err = p.Get(257)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestPutRecyclesAndRejectsDoubleFree(t *testing.T) {
	p, err := New(4096, []int{32})
	require.NoError(t, err)

	blk, err := p.Get(10)
	require.NoError(t, err)
	blk[0] = 0xEE

	require.NoError(t, p.Put(blk))
	assert.ErrorIs(t, p.Put(blk), ErrUnknownBlock)
	_, err = p.Info(blk)
	assert.ErrorIs(t, err, ErrUnknownBlock)

	again, err := p.Get(32)
	require.NoError(t, err)
	assert.Equal(t, byte(0), again[0], "recycled blocks are zeroed")

	s := p.Stats()
	assert.Equal(t, 32, s.Carved, "second Get reuses the freed block")
	assert.Equal(t, uint64(2), s.Allocations)
	assert.Equal(t, uint64(1), s.Frees)
}

func TestPutRejectsForeignBlock(t *testing.T) {
	p, err := New(1024, []int{32})
	require.NoError(t, err)

	assert.ErrorIs(t, p.Put(make([]byte, 32)), ErrUnknownBlock)
	assert.ErrorIs(t, p.Put(nil), ErrUnknownBlock)
}

func TestBudgetExhaustion(t *testing.T) {
	p, err := New(100, []int{32})
	require.NoError(t, err)

	var blocks [][]byte
	for i := 0; i < 3; i++ {
		blk, err := p.Get(32)
		require.NoError(t, err)
		blocks = append(blocks, blk)
	}

	_, err = p.Get(1)
	assert.ErrorIs(t, err, ErrNoMemory)

	s := p.Stats()
	assert.Equal(t, 3, s.BlocksInUse)
	assert.Equal(t, 96, s.MemInUse)
	assert.Equal(t, uint64(1), s.AllocFailures)

	for _, blk := range blocks {
		require.NoError(t, p.Put(blk))
	}
	s = p.Stats()
	assert.Equal(t, 0, s.BlocksInUse)
	assert.Equal(t, 96, s.PeakMemInUse, "peak never decreases")
	assert.Equal(t, 3, s.PeakBlocks)
}
