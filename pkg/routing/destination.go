package routing

import (
	"github.com/billm/baaaht/softbus/pkg/types"
)

// Destination binds one pipe to a message ID
type Destination struct {
	Pipe        types.PipeID `json:"pipe" yaml:"pipe" msgpack:"pipe"`
	Limit       int          `json:"limit" yaml:"limit" msgpack:"limit"`
	Outstanding int          `json:"outstanding" yaml:"outstanding" msgpack:"outstanding"`
	Active      bool         `json:"active" yaml:"active" msgpack:"active"`
	Scope       types.Scope  `json:"scope" yaml:"scope" msgpack:"scope"`
	QoS         types.QoS    `json:"qos" yaml:"qos" msgpack:"qos"`
}

// DestList is the ordered destination list of one route. Entries stay in
// subscription order; removal at any position keeps the rest in order.
type DestList struct {
	dests []Destination
}

func newDestList(capacity int) DestList {
	return DestList{dests: make([]Destination, 0, capacity)}
}

// Append adds d at the tail
func (l *DestList) Append(d Destination) {
	l.dests = append(l.dests, d)
}

// Find returns the destination for pipe. The pointer is valid until the
// list is next modified.
func (l *DestList) Find(pipe types.PipeID) (*Destination, bool) {
	for i := range l.dests {
		if l.dests[i].Pipe == pipe {
			return &l.dests[i], true
		}
	}
	return nil, false
}

// Remove deletes the destination for pipe, reporting whether one existed
func (l *DestList) Remove(pipe types.PipeID) bool {
	for i := range l.dests {
		if l.dests[i].Pipe == pipe {
			copy(l.dests[i:], l.dests[i+1:])
			l.dests[len(l.dests)-1] = Destination{}
			l.dests = l.dests[:len(l.dests)-1]
			return true
		}
	}
	return false
}

// Len returns the number of destinations
func (l *DestList) Len() int { return len(l.dests) }

// Each calls fn for each destination in order. fn may modify the
// destination but must not add or remove entries.
func (l *DestList) Each(fn func(d *Destination)) {
	for i := range l.dests {
		fn(&l.dests[i])
	}
}

// Pipes returns the pipe of every destination in order
func (l *DestList) Pipes() []types.PipeID {
	out := make([]types.PipeID, len(l.dests))
	for i, d := range l.dests {
		out[i] = d.Pipe
	}
	return out
}

// Snapshot returns a copy of the destinations
func (l *DestList) Snapshot() []Destination {
	return append([]Destination(nil), l.dests...)
}
