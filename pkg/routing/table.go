// Package routing maps message IDs to their destination lists.
//
// Routes live in a dense array sized once at construction. A route is
// created the first time its message ID is subscribed and is never removed,
// only emptied, so route indices stay stable for the life of the table.
// Table is not safe for concurrent use; the bus guards it with its lock.
package routing

import (
	"fmt"
	"sort"

	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// RouteID indexes a route in the table
type RouteID int

// Entry is one route
type Entry struct {
	MsgID    types.MsgID
	Dests    DestList
	SeqCount uint16
}

// NextSeqCount advances and returns the route's sequence count
func (e *Entry) NextSeqCount() uint16 {
	e.SeqCount = packet.NextSeqCount(e.SeqCount)
	return e.SeqCount
}

// Table is the message ID routing table
type Table struct {
	entries  []Entry
	index    map[types.MsgID]RouteID
	maxDests int
	highest  types.MsgID

	subs     int
	peakSubs int
}

// NewTable creates a table for at most maxMsgIDs distinct IDs, each with at
// most maxDests destinations. IDs above highest are rejected.
func NewTable(maxMsgIDs, maxDests int, highest types.MsgID) *Table {
	return &Table{
		entries:  make([]Entry, 0, maxMsgIDs),
		index:    make(map[types.MsgID]RouteID, maxMsgIDs),
		maxDests: maxDests,
		highest:  highest,
	}
}

// ValidMsgID reports whether id is inside the configured range
func (t *Table) ValidMsgID(id types.MsgID) bool {
	return id <= t.highest
}

// Lookup returns the route for id
func (t *Table) Lookup(id types.MsgID) (*Entry, bool) {
	rid, ok := t.index[id]
	if !ok {
		return nil, false
	}
	return &t.entries[rid], true
}

// RouteOf returns the route index for id
func (t *Table) RouteOf(id types.MsgID) (RouteID, bool) {
	rid, ok := t.index[id]
	return rid, ok
}

// AddDestination subscribes d.Pipe to id. Adding a pipe that is already a
// destination is not an error: the existing destination is left unchanged
// and added is false.
func (t *Table) AddDestination(id types.MsgID, d Destination) (added bool, err error) {
	if !t.ValidMsgID(id) {
		return false, types.NewError(types.ErrCodeBadArgument, "message id out of range: "+id.String())
	}

	entry, ok := t.Lookup(id)
	if ok {
		if _, dup := entry.Dests.Find(d.Pipe); dup {
			return false, nil
		}
		if entry.Dests.Len() >= t.maxDests {
			return false, types.NewError(types.ErrCodeMaxDestsMet,
				fmt.Sprintf("%s already has %d destinations", id, t.maxDests))
		}
	} else {
		if len(t.entries) == cap(t.entries) {
			return false, types.NewError(types.ErrCodeMaxMsgsMet,
				fmt.Sprintf("all %d message ids in use", cap(t.entries)))
		}
		t.entries = append(t.entries, Entry{MsgID: id, Dests: newDestList(t.maxDests)})
		rid := RouteID(len(t.entries) - 1)
		t.index[id] = rid
		entry = &t.entries[rid]
	}

	entry.Dests.Append(d)
	t.subs++
	if t.subs > t.peakSubs {
		t.peakSubs = t.subs
	}
	return true, nil
}

// RemoveDestination unsubscribes pipe from id. Removing a destination that
// does not exist is not an error; removed is false.
func (t *Table) RemoveDestination(id types.MsgID, pipe types.PipeID) (removed bool, err error) {
	if !t.ValidMsgID(id) {
		return false, types.NewError(types.ErrCodeBadArgument, "message id out of range: "+id.String())
	}
	entry, ok := t.Lookup(id)
	if !ok {
		return false, nil
	}
	if entry.Dests.Remove(pipe) {
		t.subs--
		return true, nil
	}
	return false, nil
}

// RemovePipe removes pipe from every route and returns how many
// destinations were removed
func (t *Table) RemovePipe(pipe types.PipeID) int {
	n := 0
	for i := range t.entries {
		if t.entries[i].Dests.Remove(pipe) {
			n++
		}
	}
	t.subs -= n
	return n
}

// SetActive enables or disables delivery of id to pipe
func (t *Table) SetActive(id types.MsgID, pipe types.PipeID, active bool) error {
	if !t.ValidMsgID(id) {
		return types.NewError(types.ErrCodeBadArgument, "message id out of range: "+id.String())
	}
	entry, ok := t.Lookup(id)
	if !ok {
		return types.NewError(types.ErrCodeBadArgument, fmt.Sprintf("no route for %s", id))
	}
	d, ok := entry.Dests.Find(pipe)
	if !ok {
		return types.NewError(types.ErrCodeBadArgument, fmt.Sprintf("pipe %s not subscribed to %s", pipe, id))
	}
	d.Active = active
	return nil
}

// Each calls fn for every route in creation order
func (t *Table) Each(fn func(rid RouteID, e *Entry)) {
	for i := range t.entries {
		fn(RouteID(i), &t.entries[i])
	}
}

// MsgIDsInUse returns the number of routes ever created
func (t *Table) MsgIDsInUse() int { return len(t.entries) }

// MaxMsgIDs returns the route capacity
func (t *Table) MaxMsgIDs() int { return cap(t.entries) }

// Subscriptions returns the current number of destinations across all routes
func (t *Table) Subscriptions() int { return t.subs }

// PeakSubscriptions returns the highest Subscriptions seen
func (t *Table) PeakSubscriptions() int { return t.peakSubs }

// Snapshot returns a copy of every route
func (t *Table) Snapshot() []RouteInfo {
	out := make([]RouteInfo, 0, len(t.entries))
	for i := range t.entries {
		e := &t.entries[i]
		out = append(out, RouteInfo{
			Route:    RouteID(i),
			MsgID:    e.MsgID,
			SeqCount: e.SeqCount,
			Dests:    e.Dests.Snapshot(),
		})
	}
	return out
}

// MsgMap returns every message ID to route mapping ordered by message ID
func (t *Table) MsgMap() []MapEntry {
	out := make([]MapEntry, 0, len(t.index))
	for id, rid := range t.index {
		out = append(out, MapEntry{MsgID: id, Route: rid})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MsgID < out[j].MsgID })
	return out
}

// RouteInfo is a copy of one route
type RouteInfo struct {
	Route    RouteID       `json:"route" yaml:"route" msgpack:"route"`
	MsgID    types.MsgID   `json:"msg_id" yaml:"msg_id" msgpack:"msg_id"`
	SeqCount uint16        `json:"seq_count" yaml:"seq_count" msgpack:"seq_count"`
	Dests    []Destination `json:"destinations" yaml:"destinations" msgpack:"destinations"`
}

// MapEntry pairs a message ID with its route
type MapEntry struct {
	MsgID types.MsgID `json:"msg_id" yaml:"msg_id" msgpack:"msg_id"`
	Route RouteID     `json:"route" yaml:"route" msgpack:"route"`
}
