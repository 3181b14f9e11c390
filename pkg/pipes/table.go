package pipes

import (
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/types"
)

// Table is a fixed array of pipe slots. A pipe's ID is its slot index.
type Table struct {
	slots      []*Pipe
	last       int
	inUse      int
	peak       int
	maxNameLen int
	maxDepth   int
	newQueue   QueueFactory
}

// NewTable creates a table of maxPipes slots
func NewTable(maxPipes, maxDepth, maxNameLen int, factory QueueFactory) *Table {
	if factory == nil {
		factory = NewQueue
	}
	return &Table{
		slots:      make([]*Pipe, maxPipes),
		last:       maxPipes - 1,
		maxNameLen: maxNameLen,
		maxDepth:   maxDepth,
		newQueue:   factory,
	}
}

// Alloc creates a pipe in the first free slot after the most recently
// allocated one, so a freed ID is not handed straight back out.
func (t *Table) Alloc(name string, owner types.TaskID, depth int) (*Pipe, error) {
	if depth <= 0 || depth > t.maxDepth {
		return nil, types.NewError(types.ErrCodeBadArgument,
			fmt.Sprintf("pipe depth %d outside 1..%d", depth, t.maxDepth))
	}
	if name == "" || len(name) > t.maxNameLen {
		return nil, types.NewError(types.ErrCodeBadArgument,
			fmt.Sprintf("pipe name %q must be 1..%d characters", name, t.maxNameLen))
	}
	if _, exists := t.ByName(name); exists {
		return nil, types.NewError(types.ErrCodeBadArgument, fmt.Sprintf("pipe name %q already in use", name))
	}

	slot := -1
	for i := 1; i <= len(t.slots); i++ {
		idx := (t.last + i) % len(t.slots)
		if t.slots[idx] == nil {
			slot = idx
			break
		}
	}
	if slot < 0 {
		return nil, types.NewError(types.ErrCodeMaxPipesMet,
			fmt.Sprintf("all %d pipes in use", len(t.slots)))
	}

	q, err := t.newQueue(name, depth)
	if err != nil {
		return nil, types.WrapError(types.ErrCodePipeCreateError,
			fmt.Sprintf("cannot create queue for pipe %q", name), err)
	}

	p := &Pipe{
		ID:        types.PipeID(slot),
		Name:      name,
		Owner:     owner,
		Depth:     depth,
		Queue:     q,
		CreatedAt: types.NewTimestamp(),
	}
	t.slots[slot] = p
	t.last = slot
	t.inUse++
	if t.inUse > t.peak {
		t.peak = t.inUse
	}
	return p, nil
}

// Get returns the pipe with id
func (t *Table) Get(id types.PipeID) (*Pipe, bool) {
	if int(id) >= len(t.slots) {
		return nil, false
	}
	p := t.slots[id]
	return p, p != nil
}

// Free empties the slot for id. The caller disposes of the queue.
func (t *Table) Free(id types.PipeID) error {
	if _, ok := t.Get(id); !ok {
		return types.NewError(types.ErrCodeBadArgument, fmt.Sprintf("pipe %s not in use", id))
	}
	t.slots[id] = nil
	t.inUse--
	return nil
}

// ByName returns the pipe called name
func (t *Table) ByName(name string) (*Pipe, bool) {
	for _, p := range t.slots {
		if p != nil && p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Each calls fn for every pipe in slot order
func (t *Table) Each(fn func(p *Pipe)) {
	for _, p := range t.slots {
		if p != nil {
			fn(p)
		}
	}
}

// OwnedBy returns the IDs of pipes owned by task
func (t *Table) OwnedBy(task types.TaskID) []types.PipeID {
	var ids []types.PipeID
	t.Each(func(p *Pipe) {
		if p.Owner == task {
			ids = append(ids, p.ID)
		}
	})
	return ids
}

// InUse returns the number of allocated pipes
func (t *Table) InUse() int { return t.inUse }

// Peak returns the highest InUse seen
func (t *Table) Peak() int { return t.peak }

// Cap returns the number of slots
func (t *Table) Cap() int { return len(t.slots) }
