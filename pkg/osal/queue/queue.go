// Package queue provides the bounded FIFO that backs each pipe.
//
// Put never blocks: a full queue is reported to the caller, which decides
// what to drop. Get supports polling, a bounded wait and waiting forever.
package queue

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/billm/baaaht/softbus/pkg/types"
)

const (
	// Poll makes Get return immediately when the queue is empty
	Poll = 0
	// PendForever makes Get wait until an item arrives or the queue is destroyed
	PendForever = -1
)

// Queue error codes
const (
	ErrCodeFull      = "QUEUE_FULL"
	ErrCodeEmpty     = "QUEUE_EMPTY"
	ErrCodeTimedOut  = "QUEUE_TIMEOUT"
	ErrCodeDestroyed = "QUEUE_DESTROYED"
)

var (
	ErrFull      = types.NewError(ErrCodeFull, "queue is full")
	ErrEmpty     = types.NewError(ErrCodeEmpty, "queue is empty")
	ErrTimedOut  = types.NewError(ErrCodeTimedOut, "timed out waiting for queue")
	ErrDestroyed = types.NewError(ErrCodeDestroyed, "queue destroyed")
)

// Queue is a bounded FIFO safe for concurrent use
type Queue[T any] struct {
	name  string
	items chan T
	done  chan struct{}
	once  sync.Once
	peak  atomic.Int64
	puts  atomic.Uint64
	gets  atomic.Uint64
}

// New creates a queue holding at most depth items
func New[T any](name string, depth int) (*Queue[T], error) {
	if depth <= 0 {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("queue %q depth must be positive, got %d", name, depth))
	}
	return &Queue[T]{
		name:  name,
		items: make(chan T, depth),
		done:  make(chan struct{}),
	}, nil
}

// Put appends v without blocking
func (q *Queue[T]) Put(v T) error {
	select {
	case <-q.done:
		return ErrDestroyed
	default:
	}

	select {
	case q.items <- v:
	default:
		return ErrFull
	}

	q.puts.Add(1)
	n := int64(len(q.items))
	for {
		p := q.peak.Load()
		if n <= p || q.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return nil
}

// Get removes the oldest item. timeout is Poll, PendForever or a wait in
// milliseconds.
func (q *Queue[T]) Get(timeout int) (T, error) {
	var zero T

	switch {
	case timeout < PendForever:
		return zero, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid timeout %d", timeout))

	case timeout == Poll:
		select {
		case v := <-q.items:
			q.gets.Add(1)
			return v, nil
		case <-q.done:
			return zero, ErrDestroyed
		default:
			return zero, ErrEmpty
		}

	case timeout == PendForever:
		select {
		case v := <-q.items:
			q.gets.Add(1)
			return v, nil
		case <-q.done:
			return zero, ErrDestroyed
		}

	default:
		timer := time.NewTimer(time.Duration(timeout) * time.Millisecond)
		defer timer.Stop()
		select {
		case v := <-q.items:
			q.gets.Add(1)
			return v, nil
		case <-q.done:
			return zero, ErrDestroyed
		case <-timer.C:
			return zero, ErrTimedOut
		}
	}
}

// Drain removes and returns everything currently queued without waiting
func (q *Queue[T]) Drain() []T {
	var out []T
	for {
		select {
		case v := <-q.items:
			out = append(out, v)
		default:
			return out
		}
	}
}

// Destroy wakes every pending Get with ErrDestroyed. Items still queued are
// left for Drain.
func (q *Queue[T]) Destroy() error {
	destroyed := false
	q.once.Do(func() {
		close(q.done)
		destroyed = true
	})
	if !destroyed {
		return ErrDestroyed
	}
	return nil
}

// Name returns the queue name
func (q *Queue[T]) Name() string { return q.name }

// Len returns the number of queued items
func (q *Queue[T]) Len() int { return len(q.items) }

// Cap returns the configured depth
func (q *Queue[T]) Cap() int { return cap(q.items) }

// Peak returns the highest Len observed after a Put
func (q *Queue[T]) Peak() int { return int(q.peak.Load()) }

// Stats returns statistics about the queue
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Name:  q.name,
		Depth: cap(q.items),
		Len:   len(q.items),
		Peak:  int(q.peak.Load()),
		Puts:  q.puts.Load(),
		Gets:  q.gets.Load(),
	}
}

// Stats represents queue statistics
type Stats struct {
	Name  string `json:"name"`
	Depth int    `json:"depth"`
	Len   int    `json:"len"`
	Peak  int    `json:"peak"`
	Puts  uint64 `json:"puts"`
	Gets  uint64 `json:"gets"`
}

// String returns a string representation of the stats
func (s Stats) String() string {
	return fmt.Sprintf("QueueStats{Name: %s, Depth: %d, Len: %d, Peak: %d, Puts: %d, Gets: %d}",
		s.Name, s.Depth, s.Len, s.Peak, s.Puts, s.Gets)
}
