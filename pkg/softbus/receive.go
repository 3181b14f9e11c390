package softbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/bufpool"
	"github.com/billm/baaaht/softbus/pkg/osal/queue"
	"github.com/billm/baaaht/softbus/pkg/osal/task"
	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// ReceiveBuffer returns the next message on pipe. timeout is Poll,
// PendForever or a wait in milliseconds.
//
// The returned message belongs to the bus and stays valid until the next
// successful ReceiveBuffer on the same pipe or until the pipe is deleted.
// A failed receive leaves the previous message in place.
func (b *Bus) ReceiveBuffer(ctx context.Context, pipe types.PipeID, timeout int) (packet.Message, error) {
	caller := task.CurrentIdentity(ctx)

	if timeout < PendForever {
		b.mu.Lock()
		b.counters.MsgReceiveErrorCounter++
		b.mu.Unlock()
		b.emit([]pendingEvent{b.guarded(caller, types.EventReceiveBadArg, bitReceiveBadArg,
			"receive on pipe %s: invalid timeout %d", pipe, timeout)})
		return nil, badArg(fmt.Sprintf("invalid timeout %d", timeout))
	}

	var evs []pendingEvent

	b.mu.Lock()
	p, ok := b.pipes.Get(pipe)
	if !ok {
		b.counters.MsgReceiveErrorCounter++
		b.mu.Unlock()
		b.emit([]pendingEvent{b.guarded(caller, types.EventBadPipeID, bitBadPipeID,
			"receive: pipe %s does not exist, caller %s", pipe, b.tasks.NameOf(caller))})
		return nil, badArg(fmt.Sprintf("pipe %s does not exist", pipe))
	}
	// The held buffer stays valid until a message replaces it
	q := p.Queue
	b.mu.Unlock()

	d, err := q.Get(timeout)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrEmpty):
			return nil, ErrNoMessage
		case errors.Is(err, queue.ErrTimedOut):
			return nil, ErrTimeOut
		default:
			b.mu.Lock()
			b.counters.MsgReceiveErrorCounter++
			b.mu.Unlock()
			return nil, types.WrapError(types.ErrCodePipeReadError, fmt.Sprintf("read from pipe %s failed", pipe), err)
		}
	}

	b.mu.Lock()
	if cur, ok := b.pipes.Get(pipe); !ok || cur != p {
		// The pipe was deleted while we waited; its buffers are already gone
		// except the one we just took.
		b.releaseLocked(d, &evs)
		b.counters.MsgReceiveErrorCounter++
		b.mu.Unlock()
		b.emit(evs)
		return nil, types.NewError(types.ErrCodePipeReadError, fmt.Sprintf("pipe %s deleted during receive", pipe))
	}
	if p.Current != nil {
		b.releaseLocked(p.Current, &evs)
	}
	p.Current = d
	p.Received++
	b.settleOutstanding(d, pipe)
	msg := d.Message()
	b.mu.Unlock()

	b.emit(evs)
	return msg, nil
}

// settleOutstanding gives back the message-limit slot d held on pipe.
// Callers hold b.mu.
func (b *Bus) settleOutstanding(d *bufpool.Descriptor, pipe types.PipeID) {
	entry, ok := b.routes.Lookup(d.MsgID())
	if !ok {
		return
	}
	if dest, ok := entry.Dests.Find(pipe); ok && dest.Outstanding > 0 {
		dest.Outstanding--
	}
}
