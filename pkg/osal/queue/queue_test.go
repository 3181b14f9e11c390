package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsBadDepth(t *testing.T) {
	_, err := New[int]("bad", 0)
	assert.Error(t, err)
}

func TestPutGetFIFO(t *testing.T) {
	q, err := New[int]("fifo", 3)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Put(i))
	}
	assert.ErrorIs(t, q.Put(4), ErrFull)
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 3, q.Peak())

	for i := 1; i <= 3; i++ {
		v, err := q.Get(Poll)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	_, err = q.Get(Poll)
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Equal(t, 3, q.Peak(), "peak never decreases")

	s := q.Stats()
	assert.Equal(t, uint64(3), s.Puts)
	assert.Equal(t, uint64(3), s.Gets)
}

func TestGetTimeout(t *testing.T) {
	q, err := New[string]("timeout", 1)
	require.NoError(t, err)

	start := time.Now()
	_, err = q.Get(20)
	assert.ErrorIs(t, err, ErrTimedOut)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	_, err = q.Get(-2)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimedOut))
}

func TestPendForeverWakesOnPut(t *testing.T) {
	q, err := New[int]("pend", 1)
	require.NoError(t, err)

	got := make(chan int, 1)
	go func() {
		v, err := q.Get(PendForever)
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Put(42))

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("pending Get never returned")
	}
}

func TestDestroyWakesPendingGet(t *testing.T) {
	q, err := New[int]("destroy", 2)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Get(PendForever)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Destroy())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrDestroyed)
	case <-time.After(time.Second):
		t.Fatal("Destroy did not wake pending Get")
	}

	assert.ErrorIs(t, q.Put(1), ErrDestroyed)
	assert.ErrorIs(t, q.Destroy(), ErrDestroyed)
}

func TestDrain(t *testing.T) {
	q, err := New[int]("drain", 4)
	require.NoError(t, err)
	require.NoError(t, q.Put(1))
	require.NoError(t, q.Put(2))
	require.NoError(t, q.Destroy())

	assert.Equal(t, []int{1, 2}, q.Drain())
	assert.Empty(t, q.Drain())
	assert.Equal(t, 0, q.Len())
}
