package pipes

import (
	"errors"
	"testing"

	"github.com/billm/baaaht/softbus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocValidates(t *testing.T) {
	tbl := NewTable(4, 8, 6, nil)

	tests := []struct {
		name  string
		pipe  string
		depth int
	}{
		{"zero depth", "A", 0},
		{"depth above max", "A", 9},
		{"empty name", "", 1},
		{"name too long", "TOOLONG", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tbl.Alloc(tt.pipe, 1, tt.depth)
			assert.True(t, types.IsErrCode(err, types.ErrCodeBadArgument), "got %v", err)
		})
	}

	_, err := tbl.Alloc("A", 1, 8)
	require.NoError(t, err)
	_, err = tbl.Alloc("A", 2, 1)
	assert.True(t, types.IsErrCode(err, types.ErrCodeBadArgument), "duplicate name")
}

func TestAllocFillsTableThenFails(t *testing.T) {
	tbl := NewTable(3, 4, 8, nil)
	for _, name := range []string{"A", "B", "C"} {
		_, err := tbl.Alloc(name, 1, 1)
		require.NoError(t, err)
	}
	_, err := tbl.Alloc("D", 1, 1)
	assert.True(t, types.IsErrCode(err, types.ErrCodeMaxPipesMet))
	assert.Equal(t, 3, tbl.InUse())
	assert.Equal(t, 3, tbl.Peak())
}

func TestFreedIDNotReusedImmediately(t *testing.T) {
	tbl := NewTable(4, 4, 8, nil)

	a, err := tbl.Alloc("A", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, types.PipeID(0), a.ID)
	b, err := tbl.Alloc("B", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, types.PipeID(1), b.ID)

	require.NoError(t, tbl.Free(a.ID))
	c, err := tbl.Alloc("C", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, types.PipeID(2), c.ID)

	_, ok := tbl.Get(a.ID)
	assert.False(t, ok)
	assert.Error(t, tbl.Free(a.ID))
	_, ok = tbl.Get(99)
	assert.False(t, ok)

	// The search wraps, so a freed ID comes back once the table has cycled
	d, err := tbl.Alloc("D", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, types.PipeID(3), d.ID)
	e, err := tbl.Alloc("E", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, a.ID, e.ID)
}

func TestQueueFactoryFailure(t *testing.T) {
	tbl := NewTable(2, 4, 8, func(string, int) (Queue, error) {
		return nil, errors.New("no queue")
	})
	_, err := tbl.Alloc("A", 1, 1)
	assert.True(t, types.IsErrCode(err, types.ErrCodePipeCreateError))
	assert.Equal(t, 0, tbl.InUse(), "slot stays free")
}

func TestLookupHelpers(t *testing.T) {
	tbl := NewTable(4, 4, 8, nil)
	a, err := tbl.Alloc("A", 1, 2)
	require.NoError(t, err)
	_, err = tbl.Alloc("B", 2, 2)
	require.NoError(t, err)
	_, err = tbl.Alloc("C", 1, 2)
	require.NoError(t, err)

	p, ok := tbl.ByName("A")
	require.True(t, ok)
	assert.Same(t, a, p)

	assert.Equal(t, []types.PipeID{0, 2}, tbl.OwnedBy(1))

	var names []string
	tbl.Each(func(p *Pipe) { names = append(names, p.Name) })
	assert.Equal(t, []string{"A", "B", "C"}, names)

	info := a.Info()
	assert.Equal(t, 2, info.Depth)
	assert.False(t, info.HoldsBuffer)
	assert.Contains(t, info.String(), "Name: A")

	assert.True(t, (OptIgnoreMine).Has(OptIgnoreMine))
	assert.False(t, Options(0).Has(OptIgnoreMine))
}
