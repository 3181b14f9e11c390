package softbus

import (
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/bufpool"
	"github.com/billm/baaaht/softbus/pkg/pipes"
	"github.com/billm/baaaht/softbus/pkg/routing"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// Counters are the housekeeping error and command counters
type Counters struct {
	CommandCounter                uint64 `json:"command_counter" yaml:"command_counter" msgpack:"command_counter"`
	CommandErrorCounter           uint64 `json:"command_error_counter" yaml:"command_error_counter" msgpack:"command_error_counter"`
	NoSubscribersCounter          uint64 `json:"no_subscribers_counter" yaml:"no_subscribers_counter" msgpack:"no_subscribers_counter"`
	MsgSendErrorCounter           uint64 `json:"msg_send_error_counter" yaml:"msg_send_error_counter" msgpack:"msg_send_error_counter"`
	MsgReceiveErrorCounter        uint64 `json:"msg_receive_error_counter" yaml:"msg_receive_error_counter" msgpack:"msg_receive_error_counter"`
	InternalErrorCounter          uint64 `json:"internal_error_counter" yaml:"internal_error_counter" msgpack:"internal_error_counter"`
	CreatePipeErrorCounter        uint64 `json:"create_pipe_error_counter" yaml:"create_pipe_error_counter" msgpack:"create_pipe_error_counter"`
	SubscribeErrorCounter         uint64 `json:"subscribe_error_counter" yaml:"subscribe_error_counter" msgpack:"subscribe_error_counter"`
	PipeOverflowErrorCounter      uint64 `json:"pipe_overflow_error_counter" yaml:"pipe_overflow_error_counter" msgpack:"pipe_overflow_error_counter"`
	MsgLimitErrorCounter          uint64 `json:"msg_limit_error_counter" yaml:"msg_limit_error_counter" msgpack:"msg_limit_error_counter"`
	DuplicateSubscriptionsCounter uint64 `json:"duplicate_subscriptions_counter" yaml:"duplicate_subscriptions_counter" msgpack:"duplicate_subscriptions_counter"`
}

// PipeDepthStats is the queue occupancy of one pipe
type PipeDepthStats struct {
	Pipe    types.PipeID `json:"pipe" yaml:"pipe" msgpack:"pipe"`
	Name    string       `json:"name" yaml:"name" msgpack:"name"`
	Depth   int          `json:"depth" yaml:"depth" msgpack:"depth"`
	Current int          `json:"current" yaml:"current" msgpack:"current"`
	Peak    int          `json:"peak" yaml:"peak" msgpack:"peak"`
}

// Stats is a point-in-time copy of the bus counters and statistics. Peaks
// never decrease.
type Stats struct {
	Counters `yaml:",inline"`

	MsgIDsInUse            int `json:"msg_ids_in_use" yaml:"msg_ids_in_use" msgpack:"msg_ids_in_use"`
	PeakMsgIDsInUse        int `json:"peak_msg_ids_in_use" yaml:"peak_msg_ids_in_use" msgpack:"peak_msg_ids_in_use"`
	MaxMsgIDs              int `json:"max_msg_ids" yaml:"max_msg_ids" msgpack:"max_msg_ids"`
	PipesInUse             int `json:"pipes_in_use" yaml:"pipes_in_use" msgpack:"pipes_in_use"`
	PeakPipesInUse         int `json:"peak_pipes_in_use" yaml:"peak_pipes_in_use" msgpack:"peak_pipes_in_use"`
	MaxPipes               int `json:"max_pipes" yaml:"max_pipes" msgpack:"max_pipes"`
	SubscriptionsInUse     int `json:"subscriptions_in_use" yaml:"subscriptions_in_use" msgpack:"subscriptions_in_use"`
	PeakSubscriptionsInUse int `json:"peak_subscriptions_in_use" yaml:"peak_subscriptions_in_use" msgpack:"peak_subscriptions_in_use"`

	Pool  bufpool.Stats    `json:"pool" yaml:"pool" msgpack:"pool"`
	Pipes []PipeDepthStats `json:"pipes" yaml:"pipes" msgpack:"pipes"`
}

// Stats returns the current counters and statistics
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		Counters: b.counters,
		// Routes are never removed, so the in-use count is its own peak
		MsgIDsInUse:            b.routes.MsgIDsInUse(),
		PeakMsgIDsInUse:        b.routes.MsgIDsInUse(),
		MaxMsgIDs:              b.routes.MaxMsgIDs(),
		PipesInUse:             b.pipes.InUse(),
		PeakPipesInUse:         b.pipes.Peak(),
		MaxPipes:               b.pipes.Cap(),
		SubscriptionsInUse:     b.routes.Subscriptions(),
		PeakSubscriptionsInUse: b.routes.PeakSubscriptions(),
		Pool:                   b.pool.Stats(),
	}
	b.pipes.Each(func(p *pipes.Pipe) {
		s.Pipes = append(s.Pipes, PipeDepthStats{
			Pipe:    p.ID,
			Name:    p.Name,
			Depth:   p.Depth,
			Current: p.Queue.Len(),
			Peak:    p.Queue.Peak(),
		})
	})
	return s
}

// String returns a string representation of the stats
func (s Stats) String() string {
	return fmt.Sprintf("BusStats{MsgIDs: %d/%d, Pipes: %d/%d (peak %d), Subs: %d (peak %d), Bufs: %d (peak %d), NoSubs: %d, Overflow: %d, MsgLimit: %d}",
		s.MsgIDsInUse, s.MaxMsgIDs, s.PipesInUse, s.MaxPipes, s.PeakPipesInUse,
		s.SubscriptionsInUse, s.PeakSubscriptionsInUse, s.Pool.BufsInUse, s.Pool.PeakBufsInUse,
		s.NoSubscribersCounter, s.PipeOverflowErrorCounter, s.MsgLimitErrorCounter)
}

// RoutingSnapshot returns a copy of every route and its destinations
func (b *Bus) RoutingSnapshot() []routing.RouteInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routes.Snapshot()
}

// MsgMapSnapshot returns the message ID to route mapping
func (b *Bus) MsgMapSnapshot() []routing.MapEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.routes.MsgMap()
}

// PipeSnapshot returns a description of every pipe
func (b *Bus) PipeSnapshot() []pipes.Info {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []pipes.Info
	b.pipes.Each(func(p *pipes.Pipe) {
		info := p.Info()
		info.OwnerName = b.tasks.NameOf(p.Owner)
		out = append(out, info)
	})
	return out
}
