package softbus

import (
	"context"
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/bufpool"
	"github.com/billm/baaaht/softbus/pkg/osal/task"
	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// AllocateMessageBuffer hands the calling task a pooled buffer of size
// bytes to build a message in place. The buffer must be returned through
// TransmitBuffer or ReleaseMessageBuffer.
func (b *Bus) AllocateMessageBuffer(ctx context.Context, size int) (packet.Message, error) {
	caller := task.CurrentIdentity(ctx)

	if size <= 0 || size > b.cfg.MaxMsgSize {
		b.mu.Lock()
		b.counters.MsgSendErrorCounter++
		b.mu.Unlock()
		b.emit([]pendingEvent{b.guarded(caller, types.EventMsgTooBig, bitMsgTooBig,
			"zero copy: buffer of %d bytes outside 1..%d, caller %s", size, b.cfg.MaxMsgSize, b.tasks.NameOf(caller))})
		if size <= 0 {
			return nil, badArg(fmt.Sprintf("invalid buffer size %d", size))
		}
		return nil, types.NewError(types.ErrCodeMsgTooBig, fmt.Sprintf("buffer of %d bytes exceeds %d", size, b.cfg.MaxMsgSize))
	}

	d, err := b.pool.Acquire(size)
	if err != nil {
		b.mu.Lock()
		b.counters.MsgSendErrorCounter++
		b.mu.Unlock()
		b.emit([]pendingEvent{b.guarded(caller, types.EventGetBufError, bitGetBufError,
			"zero copy: cannot get %d byte buffer for %s", size, b.tasks.NameOf(caller))})
		return nil, err
	}
	b.pool.Track(d, caller)
	return d.Message(), nil
}

// ReleaseMessageBuffer returns an unsent zero-copy buffer to the pool. Only
// the task that allocated the buffer may release it, once.
func (b *Bus) ReleaseMessageBuffer(ctx context.Context, msg packet.Message) error {
	caller := task.CurrentIdentity(ctx)

	d, err := b.pool.Claim(msg, caller)
	if err != nil {
		b.emit([]pendingEvent{b.event(caller, types.EventReleaseBufferError, types.EventTypeError,
			fmt.Sprintf("release buffer from %s: %v", b.tasks.NameOf(caller), err), nil)})
		return err
	}

	b.dropZeroCopy(d)
	return nil
}

// TransmitBuffer sends a buffer from AllocateMessageBuffer without copying
// it. Ownership passes to the bus whatever the outcome; the caller must not
// touch msg afterwards.
func (b *Bus) TransmitBuffer(ctx context.Context, msg packet.Message, incrementSeq bool) error {
	sender := task.CurrentIdentity(ctx)

	d, err := b.pool.Claim(msg, sender)
	if err != nil {
		b.emit([]pendingEvent{b.guarded(sender, types.EventSendBadArg, bitSendBadArg,
			"zero copy send from %s: %v", b.tasks.NameOf(sender), err)})
		b.mu.Lock()
		b.counters.MsgSendErrorCounter++
		b.mu.Unlock()
		return err
	}

	// The header may claim less than the buffer holds, never more
	m := d.Message()
	if err := b.validateOutgoing(sender, m); err != nil {
		b.dropZeroCopy(d)
		return err
	}
	return b.transmit(sender, m, d, incrementSeq)
}

// ZeroCopySend is TransmitBuffer with the sequence count advanced
func (b *Bus) ZeroCopySend(ctx context.Context, msg packet.Message) error {
	return b.TransmitBuffer(ctx, msg, true)
}

// ZeroCopyPass is TransmitBuffer keeping the sequence count the message
// already carries
func (b *Bus) ZeroCopyPass(ctx context.Context, msg packet.Message) error {
	return b.TransmitBuffer(ctx, msg, false)
}

// dropZeroCopy releases a claimed zero-copy buffer
func (b *Bus) dropZeroCopy(d *bufpool.Descriptor) {
	var evs []pendingEvent
	b.mu.Lock()
	b.releaseLocked(d, &evs)
	b.mu.Unlock()
	b.emit(evs)
}
