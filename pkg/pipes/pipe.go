// Package pipes holds the fixed-size pipe table. A pipe is an owned,
// bounded receive queue plus the buffer most recently handed to its reader.
//
// Table and Pipe are not safe for concurrent use on their own; the bus guards
// them with its lock. Only Queue.Get runs outside that lock.
package pipes

import (
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/bufpool"
	"github.com/billm/baaaht/softbus/pkg/osal/queue"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// Options alter delivery to a pipe
type Options uint8

const (
	// OptIgnoreMine stops a task receiving messages it sent itself
	OptIgnoreMine Options = 1 << iota
)

// ValidOptions is the mask of every known option bit
const ValidOptions = OptIgnoreMine

// Has reports whether every bit in o2 is set
func (o Options) Has(o2 Options) bool { return o&o2 == o2 }

// Queue is the bounded FIFO behind a pipe
type Queue interface {
	Put(d *bufpool.Descriptor) error
	Get(timeout int) (*bufpool.Descriptor, error)
	Drain() []*bufpool.Descriptor
	Destroy() error
	Len() int
	Cap() int
	Peak() int
}

// QueueFactory creates the queue for a new pipe
type QueueFactory func(name string, depth int) (Queue, error)

// NewQueue is the default QueueFactory
func NewQueue(name string, depth int) (Queue, error) {
	q, err := queue.New[*bufpool.Descriptor](name, depth)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Pipe is one pipe table entry
type Pipe struct {
	ID        types.PipeID
	Name      string
	Owner     types.TaskID
	Depth     int
	Opts      Options
	Queue     Queue
	CreatedAt types.Timestamp

	// Current is the buffer last returned by Receive. It is released at the
	// next Receive or when the pipe is deleted.
	Current *bufpool.Descriptor

	Received   uint64
	SendErrors uint64
}

// Info returns a read-only view of the pipe
func (p *Pipe) Info() Info {
	return Info{
		ID:          p.ID,
		Name:        p.Name,
		Owner:       p.Owner,
		Depth:       p.Depth,
		Opts:        p.Opts,
		Queued:      p.Queue.Len(),
		Peak:        p.Queue.Peak(),
		HoldsBuffer: p.Current != nil,
		Received:    p.Received,
		SendErrors:  p.SendErrors,
	}
}

// Info describes a pipe for dumps and queries
type Info struct {
	ID          types.PipeID `json:"id" yaml:"id" msgpack:"id"`
	Name        string       `json:"name" yaml:"name" msgpack:"name"`
	Owner       types.TaskID `json:"owner" yaml:"owner" msgpack:"owner"`
	OwnerName   string       `json:"owner_name,omitempty" yaml:"owner_name,omitempty" msgpack:"owner_name,omitempty"`
	Depth       int          `json:"depth" yaml:"depth" msgpack:"depth"`
	Opts        Options      `json:"opts" yaml:"opts" msgpack:"opts"`
	Queued      int          `json:"queued" yaml:"queued" msgpack:"queued"`
	Peak        int          `json:"peak" yaml:"peak" msgpack:"peak"`
	HoldsBuffer bool         `json:"holds_buffer" yaml:"holds_buffer" msgpack:"holds_buffer"`
	Received    uint64       `json:"received" yaml:"received" msgpack:"received"`
	SendErrors  uint64       `json:"send_errors" yaml:"send_errors" msgpack:"send_errors"`
}

// String returns a string representation of the pipe info
func (i Info) String() string {
	return fmt.Sprintf("Pipe{ID: %s, Name: %s, Owner: %s, Depth: %d, Queued: %d, Peak: %d}",
		i.ID, i.Name, i.Owner, i.Depth, i.Queued, i.Peak)
}
