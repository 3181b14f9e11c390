package softbus

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/osal/task"
	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/routing"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// SubType says whether a one-subscription report announces a new or a
// removed subscription
type SubType uint8

const (
	SubTypeSubscribe   SubType = 1
	SubTypeUnsubscribe SubType = 2
)

// Report payload layouts, after the telemetry header:
//
//	one subscription:  subtype(1) msgid(4) priority(1) reliability(1) pad(1)
//	all subscriptions: segment(4) total(4) count(4) then count entries of
//	                   msgid(4) priority(1) reliability(1) pad(2)
const (
	oneSubPayloadSize  = 8
	allSubsHeaderSize  = 12
	allSubsEntrySize   = 8
	oneSubPacketSize   = packet.TlmHeaderSize + oneSubPayloadSize
	allSubsPayloadBase = packet.TlmHeaderSize + allSubsHeaderSize
)

func allSubsPacketSize(entries int) int {
	return allSubsPayloadBase + entries*allSubsEntrySize
}

// SubReport is a decoded one-subscription report
type SubReport struct {
	Type  SubType     `json:"type" yaml:"type" msgpack:"type"`
	MsgID types.MsgID `json:"msg_id" yaml:"msg_id" msgpack:"msg_id"`
	QoS   types.QoS   `json:"qos" yaml:"qos" msgpack:"qos"`
}

// SubEntry is one subscription in an all-subscriptions report
type SubEntry struct {
	MsgID types.MsgID `json:"msg_id" yaml:"msg_id" msgpack:"msg_id"`
	QoS   types.QoS   `json:"qos" yaml:"qos" msgpack:"qos"`
}

// SubPage is one decoded all-subscriptions report packet
type SubPage struct {
	Segment  uint32     `json:"segment" yaml:"segment" msgpack:"segment"`
	Segments uint32     `json:"segments" yaml:"segments" msgpack:"segments"`
	Entries  []SubEntry `json:"entries" yaml:"entries" msgpack:"entries"`
}

func (b *Bus) oneSubReport(st SubType, id types.MsgID, qos types.QoS) packet.Message {
	msg, err := packet.New(types.MsgID(b.cfg.OneSubReportMsgID), oneSubPacketSize)
	if err != nil {
		b.logger.Error("Failed to build subscription report", "error", err)
		return nil
	}
	p := msg.Payload()
	p[0] = byte(st)
	binary.BigEndian.PutUint32(p[1:5], uint32(id))
	p[5] = qos.Priority
	p[6] = qos.Reliability
	return msg
}

// sendReport transmits a report built by the bus on behalf of the caller
func (b *Bus) sendReport(ctx context.Context, msg packet.Message) {
	if err := b.TransmitMsg(ctx, msg, true); err != nil {
		b.logger.Warn("Failed to send subscription report", "msg_id", msg.MsgID(), "error", err)
	}
}

// ParseSubReport decodes a one-subscription report
func ParseSubReport(msg packet.Message) (SubReport, error) {
	if err := msg.Validate(); err != nil {
		return SubReport{}, err
	}
	p := msg.Payload()
	if len(p) < oneSubPayloadSize {
		return SubReport{}, badArg(fmt.Sprintf("subscription report payload is %d bytes", len(p)))
	}
	return SubReport{
		Type:  SubType(p[0]),
		MsgID: types.MsgID(binary.BigEndian.Uint32(p[1:5])),
		QoS:   types.QoS{Priority: p[5], Reliability: p[6]},
	}, nil
}

// ParseSubPage decodes an all-subscriptions report
func ParseSubPage(msg packet.Message) (SubPage, error) {
	if err := msg.Validate(); err != nil {
		return SubPage{}, err
	}
	p := msg.Payload()
	if len(p) < allSubsHeaderSize {
		return SubPage{}, badArg(fmt.Sprintf("subscription page payload is %d bytes", len(p)))
	}
	page := SubPage{
		Segment:  binary.BigEndian.Uint32(p[0:4]),
		Segments: binary.BigEndian.Uint32(p[4:8]),
	}
	n := int(binary.BigEndian.Uint32(p[8:12]))
	if allSubsHeaderSize+n*allSubsEntrySize > len(p) {
		return SubPage{}, badArg(fmt.Sprintf("subscription page claims %d entries", n))
	}
	page.Entries = make([]SubEntry, n)
	for i := range page.Entries {
		e := p[allSubsHeaderSize+i*allSubsEntrySize:]
		page.Entries[i] = SubEntry{
			MsgID: types.MsgID(binary.BigEndian.Uint32(e[0:4])),
			QoS:   types.QoS{Priority: e[4], Reliability: e[5]},
		}
	}
	return page, nil
}

// SendPrevSubs reports every global subscription on the all-subscriptions
// message ID, SubEntriesPerPkt entries per packet, and returns the packets
// sent
func (b *Bus) SendPrevSubs(ctx context.Context) ([]packet.Message, error) {
	caller := task.CurrentIdentity(ctx)
	per := b.cfg.SubEntriesPerPkt

	b.mu.Lock()
	var entries []SubEntry
	b.routes.Each(func(_ routing.RouteID, e *routing.Entry) {
		e.Dests.Each(func(d *routing.Destination) {
			if d.Scope == types.ScopeGlobal {
				entries = append(entries, SubEntry{MsgID: e.MsgID, QoS: d.QoS})
			}
		})
	})
	b.counters.CommandCounter++
	b.mu.Unlock()

	segments := (len(entries) + per - 1) / per
	pages := make([]packet.Message, 0, segments)
	var evs []pendingEvent
	for seg := 0; seg < segments; seg++ {
		chunk := entries[seg*per : min((seg+1)*per, len(entries))]
		msg, err := packet.New(types.MsgID(b.cfg.AllSubsReportMsgID), allSubsPacketSize(per))
		if err != nil {
			return pages, err
		}
		p := msg.Payload()
		binary.BigEndian.PutUint32(p[0:4], uint32(seg+1))
		binary.BigEndian.PutUint32(p[4:8], uint32(segments))
		binary.BigEndian.PutUint32(p[8:12], uint32(len(chunk)))
		for i, e := range chunk {
			o := p[allSubsHeaderSize+i*allSubsEntrySize:]
			binary.BigEndian.PutUint32(o[0:4], uint32(e.MsgID))
			o[4] = e.QoS.Priority
			o[5] = e.QoS.Reliability
		}

		evID, kind := types.EventFullSubPkt, "full"
		if len(chunk) < per {
			evID, kind = types.EventPartialSubPkt, "partial"
		}
		evs = append(evs, b.event(caller, evID, types.EventTypeDebug,
			fmt.Sprintf("%s subscription packet %d of %d sent with %d entries", kind, seg+1, segments, len(chunk)), nil))

		if err := b.TransmitMsg(ctx, msg, true); err != nil {
			b.emit(evs)
			return pages, err
		}
		pages = append(pages, msg)
	}

	b.emit(evs)
	return pages, nil
}
