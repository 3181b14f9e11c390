package softbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/bufpool"
	"github.com/billm/baaaht/softbus/pkg/osal/queue"
	"github.com/billm/baaaht/softbus/pkg/osal/task"
	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/pipes"
	"github.com/billm/baaaht/softbus/pkg/routing"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// TransmitMsg copies msg into a pooled buffer and delivers it to every
// active subscriber of its message ID. When incrementSeq is set the route's
// sequence count is advanced and stamped into the delivered copy; msg itself
// is never modified.
//
// A message nobody subscribes to is dropped without error. Destinations
// that are full or at their message limit are skipped and counted; the
// send still succeeds for the others.
func (b *Bus) TransmitMsg(ctx context.Context, msg packet.Message, incrementSeq bool) error {
	sender := task.CurrentIdentity(ctx)

	if err := b.validateOutgoing(sender, msg); err != nil {
		return err
	}
	return b.transmit(sender, msg, nil, incrementSeq)
}

// validateOutgoing checks a packet before it enters the routing table
func (b *Bus) validateOutgoing(sender types.TaskID, msg packet.Message) error {
	var ev pendingEvent
	var err error

	switch {
	case msg == nil:
		err = badArg("nil message")
		ev = b.guarded(sender, types.EventSendBadArg, bitSendBadArg, "send: nil message from %s", b.tasks.NameOf(sender))
	case msg.Validate() != nil:
		err = types.WrapError(types.ErrCodeBadArgument, "malformed message", msg.Validate())
		ev = b.guarded(sender, types.EventSendBadArg, bitSendBadArg, "send: malformed message from %s", b.tasks.NameOf(sender))
	case !b.routes.ValidMsgID(msg.MsgID()):
		err = badArg(fmt.Sprintf("message id %s out of range", msg.MsgID()))
		ev = b.guarded(sender, types.EventSendInvalidMsgID, bitSendInvalidMsgID,
			"send: invalid msg id %s from %s", msg.MsgID(), b.tasks.NameOf(sender))
	case msg.Size() > b.cfg.MaxMsgSize:
		err = types.NewError(types.ErrCodeMsgTooBig,
			fmt.Sprintf("message of %d bytes exceeds %d", msg.Size(), b.cfg.MaxMsgSize))
		ev = b.guarded(sender, types.EventMsgTooBig, bitMsgTooBig,
			"send: msg %s of %d bytes from %s exceeds max %d", msg.MsgID(), msg.Size(), b.tasks.NameOf(sender), b.cfg.MaxMsgSize)
	default:
		return nil
	}

	b.mu.Lock()
	b.counters.MsgSendErrorCounter++
	b.mu.Unlock()
	b.emit([]pendingEvent{ev})
	return err
}

// transmit delivers one message. For a copying send zc is nil and the
// shared buffer is acquired on the first destination that takes it. For a
// zero-copy send zc is the caller's buffer, already claimed from the pool,
// and carries the sender's reference. Either way the sender's reference is dropped before return.
func (b *Bus) transmit(sender types.TaskID, msg packet.Message, zc *bufpool.Descriptor, incrementSeq bool) error {
	var evs []pendingEvent
	id := msg.MsgID()
	size := msg.Size()

	b.mu.Lock()

	entry, ok := b.routes.Lookup(id)
	if !ok || entry.Dests.Len() == 0 {
		b.counters.NoSubscribersCounter++
		if zc != nil {
			b.releaseLocked(zc, &evs)
		}
		b.mu.Unlock()
		b.emit(evs)
		return nil
	}

	var seq uint16
	if incrementSeq {
		seq = entry.NextSeqCount()
	}

	desc := zc
	if desc != nil {
		desc.SetMsgID(id)
		if incrementSeq {
			desc.Message().SetSeqCount(seq)
		}
	}

	var allocErr error
	entry.Dests.Each(func(d *routing.Destination) {
		if allocErr != nil || !d.Active {
			return
		}
		p, ok := b.pipes.Get(d.Pipe)
		if !ok {
			b.counters.InternalErrorCounter++
			evs = append(evs, b.event(sender, types.EventInternalError, types.EventTypeCritical,
				fmt.Sprintf("route %s points at missing pipe %s", id, d.Pipe), nil))
			return
		}
		if p.Opts.Has(pipes.OptIgnoreMine) && p.Owner == sender {
			return
		}
		if d.Outstanding >= d.Limit {
			b.counters.MsgLimitErrorCounter++
			evs = append(evs, b.guarded(sender, types.EventMsgIDLimitError, bitMsgIDLimit,
				"msg limit %d reached for %s on pipe %s %s, sender %s",
				d.Limit, id, p.ID, p.Name, b.tasks.NameOf(sender)))
			return
		}

		if desc == nil {
			var err error
			desc, err = b.pool.Acquire(size)
			if err != nil {
				allocErr = err
				return
			}
			copy(desc.Message(), msg.Bytes())
			desc.SetMsgID(id)
			if incrementSeq {
				desc.Message().SetSeqCount(seq)
			}
		}

		if err := b.pool.AddRef(desc); err != nil {
			b.counters.InternalErrorCounter++
			return
		}
		if err := p.Queue.Put(desc); err != nil {
			b.releaseLocked(desc, &evs)
			p.SendErrors++
			if errors.Is(err, queue.ErrFull) {
				b.counters.PipeOverflowErrorCounter++
				evs = append(evs, b.guarded(sender, types.EventQueueFullError, bitQueueFull,
					"pipe overflow: msg %s pipe %s %s, sender %s", id, p.ID, p.Name, b.tasks.NameOf(sender)))
			} else {
				b.counters.InternalErrorCounter++
				evs = append(evs, b.guarded(sender, types.EventQueueWriteError, bitQueueWrite,
					"pipe write error: msg %s pipe %s %s: %v", id, p.ID, p.Name, err))
			}
			return
		}
		d.Outstanding++
	})

	if desc != nil {
		b.releaseLocked(desc, &evs)
	}
	if allocErr != nil {
		b.counters.MsgSendErrorCounter++
		evs = append(evs, b.guarded(sender, types.EventGetBufError, bitGetBufError,
			"send: cannot get %d byte buffer for msg %s from %s", size, id, b.tasks.NameOf(sender)))
	}
	b.mu.Unlock()

	b.emit(evs)
	if allocErr != nil {
		return allocErr
	}
	return nil
}
