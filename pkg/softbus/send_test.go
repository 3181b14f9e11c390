package softbus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/billm/baaaht/softbus/internal/config"
	"github.com/billm/baaaht/softbus/pkg/events"
	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/pipes"
	"github.com/billm/baaaht/softbus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSendFanOutSharesOneBuffer(t *testing.T) {
	factory := newRecordingFactory()
	b, _ := newTestBus(t, nil, WithQueueFactory(factory.New))
	ctx := taskCtx(1)

	a := mustPipe(t, b, ctx, 10, "A")
	bp := mustPipe(t, b, ctx, 10, "B")
	c := mustPipe(t, b, ctx, 10, "C")
	require.NoError(t, b.Subscribe(ctx, msgX, a))
	require.NoError(t, b.Subscribe(ctx, msgX, bp))

	msg := newMsg(t, msgX, 24)
	copy(msg.Payload(), "hello")
	require.NoError(t, b.TransmitMsg(ctx, msg, true))

	d := factory.get("A").last
	require.NotNil(t, d)
	assert.Same(t, d, factory.get("B").last, "one physical copy for every destination")
	assert.Nil(t, factory.get("C").last)
	assert.Equal(t, 2, b.pool.RefCount(d))
	assert.Equal(t, 1, b.Stats().Pool.BufsInUse)

	gotA, err := b.ReceiveBuffer(ctx, a, Poll)
	require.NoError(t, err)
	gotB, err := b.ReceiveBuffer(ctx, bp, Poll)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), gotA.Payload()[:5])
	assert.Equal(t, gotA.Bytes(), gotB.Bytes())
	_, err = b.ReceiveBuffer(ctx, c, Poll)
	assert.ErrorIs(t, err, ErrNoMessage)

	// Each pipe still holds the buffer until its next successful receive
	assert.Equal(t, 2, b.pool.RefCount(d))
	_, err = b.ReceiveBuffer(ctx, a, Poll)
	assert.ErrorIs(t, err, ErrNoMessage)
	_, err = b.ReceiveBuffer(ctx, bp, 5)
	assert.ErrorIs(t, err, ErrTimeOut)
	assert.Equal(t, 2, b.pool.RefCount(d), "a failed receive keeps the held buffer")
	assert.Equal(t, []byte("hello"), gotA.Payload()[:5])

	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 24), true))
	_, err = b.ReceiveBuffer(ctx, a, Poll)
	require.NoError(t, err)
	assert.Equal(t, 1, b.pool.RefCount(d))
	_, err = b.ReceiveBuffer(ctx, bp, Poll)
	require.NoError(t, err)
	assert.Zero(t, b.pool.RefCount(d))
	assert.Equal(t, 1, b.Stats().Pool.BufsInUse, "only the second message is held")

	assert.Zero(t, msg.SeqCount(), "the sender's message is never modified")
}

func TestFailedReceiveKeepsHeldBuffer(t *testing.T) {
	b, _ := newTestBus(t, nil)
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 4, "p")
	require.NoError(t, b.Subscribe(ctx, msgX, p))

	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
	first, err := b.ReceiveBuffer(ctx, p, Poll)
	require.NoError(t, err)

	for _, timeout := range []int{Poll, 5} {
		_, err = b.ReceiveBuffer(ctx, p, timeout)
		require.Error(t, err)
		assert.Equal(t, 1, b.Stats().Pool.BufsInUse, "timeout %d", timeout)
	}
	assert.Equal(t, uint16(1), first.SeqCount(), "previous message still readable")
	assert.Equal(t, msgX, first.MsgID())

	info, err := b.PipeInfo(ctx, p)
	require.NoError(t, err)
	assert.True(t, info.HoldsBuffer)
}

func TestSendNoSubscribers(t *testing.T) {
	b, rec := newTestBus(t, nil)
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 4, "p")
	require.NoError(t, b.Subscribe(ctx, msgY, p))
	require.NoError(t, b.Unsubscribe(ctx, msgY, p))

	before := b.Stats()
	recorded := len(rec.Events())

	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true), "unrouted id")
	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgY, 16), true), "emptied route")

	after := b.Stats()
	want := before.Counters
	want.NoSubscribersCounter += 2
	assert.Equal(t, want, after.Counters)
	assert.Equal(t, before.Pool, after.Pool, "no buffer is touched")
	assert.Len(t, rec.Events(), recorded, "no subscribers is silent")
}

func TestSendValidation(t *testing.T) {
	b, rec := newTestBus(t, func(c *config.Config) {
		c.Bus.HighestValidMsgID = 0x0FFF
		c.Bus.MaxMsgSize = 256
		c.Bus.SubEntriesPerPkt = 4
	})
	ctx := taskCtx(1)

	overclaim := newMsg(t, msgX, 32)
	overclaim.SetSize(64)

	tests := []struct {
		name    string
		msg     packet.Message
		wantErr error
		event   types.EventID
	}{
		{name: "nil", msg: nil, wantErr: ErrBadArgument, event: types.EventSendBadArg},
		{name: "shorter than header", msg: packet.Message{0x08, 0x01, 0xC0}, wantErr: ErrBadArgument, event: types.EventSendBadArg},
		{name: "length beyond buffer", msg: overclaim, wantErr: ErrBadArgument, event: types.EventSendBadArg},
		{name: "id out of range", msg: newMsg(t, cmdZ, 16), wantErr: ErrBadArgument, event: types.EventSendInvalidMsgID},
		{name: "too big", msg: newMsg(t, msgX, 257), wantErr: ErrMsgTooBig, event: types.EventMsgTooBig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.Reset()
			assert.ErrorIs(t, b.TransmitMsg(ctx, tt.msg, true), tt.wantErr)
			assert.Equal(t, 1, rec.Count(tt.event))
		})
	}
	assert.Equal(t, uint64(len(tests)), b.Stats().MsgSendErrorCounter)
}

func TestSequenceCount(t *testing.T) {
	b, _ := newTestBus(t, nil)
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 8, "p")
	require.NoError(t, b.Subscribe(ctx, msgX, p))

	for want := uint16(1); want <= 3; want++ {
		require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
		got, err := b.ReceiveBuffer(ctx, p, Poll)
		require.NoError(t, err)
		assert.Equal(t, want, got.SeqCount())
	}

	// Do not increment: the delivered copy keeps the sender's count and the
	// route's count does not move
	msg := newMsg(t, msgX, 16)
	msg.SetSeqCount(77)
	require.NoError(t, b.TransmitMsg(ctx, msg, false))
	got, err := b.ReceiveBuffer(ctx, p, Poll)
	require.NoError(t, err)
	assert.Equal(t, uint16(77), got.SeqCount())

	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
	got, err = b.ReceiveBuffer(ctx, p, Poll)
	require.NoError(t, err)
	assert.Equal(t, uint16(4), got.SeqCount())
	assert.Equal(t, uint16(4), b.RoutingSnapshot()[0].SeqCount)
}

func TestReceiveTimeouts(t *testing.T) {
	b, rec := newTestBus(t, nil)
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 4, "p")

	_, err := b.ReceiveBuffer(ctx, p, Poll)
	assert.ErrorIs(t, err, ErrNoMessage)

	start := time.Now()
	_, err = b.ReceiveBuffer(ctx, p, 20)
	assert.ErrorIs(t, err, ErrTimeOut)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)

	_, err = b.ReceiveBuffer(ctx, p, -2)
	assert.ErrorIs(t, err, ErrBadArgument)
	assert.Equal(t, 1, rec.Count(types.EventReceiveBadArg))

	_, err = b.ReceiveBuffer(ctx, types.PipeID(60), Poll)
	assert.ErrorIs(t, err, ErrBadArgument)
	assert.Equal(t, 1, rec.Count(types.EventBadPipeID))

	assert.Equal(t, uint64(2), b.Stats().MsgReceiveErrorCounter, "empty and timed out are not errors")
}

func TestPendForeverWithConcurrentSend(t *testing.T) {
	b, _ := newTestBus(t, nil)
	rx, tx := taskCtx(1), taskCtx(2)
	p := mustPipe(t, b, rx, 4, "p")
	require.NoError(t, b.Subscribe(rx, msgX, p))

	// Advance the route so the pending receive sees previous+1
	require.NoError(t, b.TransmitMsg(tx, newMsg(t, msgX, 16), true))
	first, err := b.ReceiveBuffer(rx, p, Poll)
	require.NoError(t, err)
	previous := first.SeqCount()

	var got packet.Message
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error {
		msg, err := b.ReceiveBuffer(rx, p, PendForever)
		got = msg
		return err
	})
	g.Go(func() error {
		time.Sleep(20 * time.Millisecond)
		msg, err := packet.New(msgX, 16)
		if err != nil {
			return err
		}
		return b.TransmitMsg(tx, msg, true)
	})
	require.NoError(t, g.Wait())
	assert.Equal(t, previous+1, got.SeqCount())
}

func TestReceiveWhenPipeDeleted(t *testing.T) {
	b, _ := newTestBus(t, nil)
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 4, "p")

	errc := make(chan error, 1)
	go func() {
		_, err := b.ReceiveBuffer(ctx, p, PendForever)
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, b.DeletePipe(ctx, p))

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrPipeReadError)
	case <-time.After(2 * time.Second):
		t.Fatal("pending receive was not woken by pipe deletion")
	}
	assert.Equal(t, uint64(1), b.Stats().MsgReceiveErrorCounter)
}

func TestMsgLimit(t *testing.T) {
	b, rec := newTestBus(t, nil)
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 10, "p")
	require.NoError(t, b.SubscribeEx(ctx, msgX, p, types.DefaultQoS, 2))

	for i := 0; i < 3; i++ {
		require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true), "limit is a soft condition")
	}
	s := b.Stats()
	assert.Equal(t, uint64(1), s.MsgLimitErrorCounter)
	assert.Equal(t, 1, rec.Count(types.EventMsgIDLimitError))
	assert.Equal(t, 2, s.Pipes[0].Current)
	assert.Equal(t, 2, b.RoutingSnapshot()[0].Dests[0].Outstanding)

	// Receiving gives back a slot
	_, err := b.ReceiveBuffer(ctx, p, Poll)
	require.NoError(t, err)
	assert.Equal(t, 1, b.RoutingSnapshot()[0].Dests[0].Outstanding)

	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
	assert.Equal(t, uint64(1), b.Stats().MsgLimitErrorCounter)
	assert.Equal(t, 2, b.RoutingSnapshot()[0].Dests[0].Outstanding)
}

func TestPipeOverflow(t *testing.T) {
	b, rec := newTestBus(t, nil)
	ctx := taskCtx(1)
	small := mustPipe(t, b, ctx, 2, "small")
	big := mustPipe(t, b, ctx, 8, "big")
	require.NoError(t, b.SubscribeEx(ctx, msgX, small, types.DefaultQoS, 10))
	require.NoError(t, b.SubscribeEx(ctx, msgX, big, types.DefaultQoS, 10))

	for i := 0; i < 3; i++ {
		require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
	}

	s := b.Stats()
	assert.Equal(t, uint64(1), s.PipeOverflowErrorCounter)
	assert.Equal(t, 1, rec.Count(types.EventQueueFullError))
	assert.Equal(t, 3, s.Pool.BufsInUse, "the overflowing copy still reached big")

	info, err := b.PipeInfo(ctx, small)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.SendErrors)
	assert.Equal(t, 2, info.Peak)
	assert.Equal(t, 2, b.RoutingSnapshot()[0].Dests[0].Outstanding, "a dropped copy is not outstanding")
}

func TestQueueWriteError(t *testing.T) {
	factory := newRecordingFactory()
	b, rec := newTestBus(t, nil, WithQueueFactory(factory.New))
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 4, "p")
	require.NoError(t, b.Subscribe(ctx, msgX, p))
	factory.get("p").failPut = errors.New("queue wedged")

	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
	s := b.Stats()
	assert.Equal(t, uint64(1), s.InternalErrorCounter)
	assert.Zero(t, s.PipeOverflowErrorCounter)
	assert.Zero(t, s.Pool.BufsInUse)
	assert.Equal(t, 1, rec.Count(types.EventQueueWriteError))
}

func TestIgnoreMine(t *testing.T) {
	b, _ := newTestBus(t, nil)
	me, them := taskCtx(1), taskCtx(2)
	mine := mustPipe(t, b, me, 4, "mine")
	theirs := mustPipe(t, b, them, 4, "theirs")
	require.NoError(t, b.Subscribe(me, msgX, mine))
	require.NoError(t, b.Subscribe(them, msgX, theirs))
	require.NoError(t, b.SetPipeOpts(me, mine, pipes.OptIgnoreMine))

	require.NoError(t, b.TransmitMsg(me, newMsg(t, msgX, 16), true))
	_, err := b.ReceiveBuffer(me, mine, Poll)
	assert.ErrorIs(t, err, ErrNoMessage)
	_, err = b.ReceiveBuffer(them, theirs, Poll)
	assert.NoError(t, err)

	require.NoError(t, b.TransmitMsg(them, newMsg(t, msgX, 16), true))
	_, err = b.ReceiveBuffer(me, mine, Poll)
	assert.NoError(t, err, "other tasks' messages still arrive")
}

func TestAllocationFailure(t *testing.T) {
	b, rec := newTestBus(t, nil, WithAllocator(failingAllocator{}))
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 4, "p")
	require.NoError(t, b.Subscribe(ctx, msgX, p))

	err := b.TransmitMsg(ctx, newMsg(t, msgX, 16), true)
	assert.ErrorIs(t, err, ErrBufAllocError)
	assert.Equal(t, 1, rec.Count(types.EventGetBufError))
	assert.Equal(t, uint64(1), b.Stats().MsgSendErrorCounter)

	_, err = b.ReceiveBuffer(ctx, p, Poll)
	assert.ErrorIs(t, err, ErrNoMessage)
	assert.Zero(t, b.RoutingSnapshot()[0].Dests[0].Outstanding)

	_, err = b.AllocateMessageBuffer(ctx, 16)
	assert.ErrorIs(t, err, ErrBufAllocError)
}

func TestDisabledRouteSkipsDelivery(t *testing.T) {
	b, rec := newTestBus(t, nil)
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 4, "p")
	require.NoError(t, b.Subscribe(ctx, msgX, p))

	require.NoError(t, b.DisableRoute(ctx, msgX, p))
	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
	_, err := b.ReceiveBuffer(ctx, p, Poll)
	assert.ErrorIs(t, err, ErrNoMessage)
	assert.Zero(t, b.Stats().NoSubscribersCounter, "a disabled route still has subscribers")

	require.NoError(t, b.EnableRoute(ctx, msgX, p))
	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
	_, err = b.ReceiveBuffer(ctx, p, Poll)
	assert.NoError(t, err)

	assert.ErrorIs(t, b.EnableRoute(ctx, msgY, p), ErrBadArgument)
	s := b.Stats()
	assert.Equal(t, uint64(2), s.CommandCounter)
	assert.Equal(t, uint64(1), s.CommandErrorCounter)
	assert.Equal(t, 1, rec.Count(types.EventDisableRoute))
	assert.Equal(t, 1, rec.Count(types.EventEnableRoute))
	assert.Equal(t, 1, rec.Count(types.EventRouteCmdError))
}

func TestErrorEventsAreRateLimited(t *testing.T) {
	b, rec := newTestBus(t, func(c *config.Config) {
		c.Events.RateLimit = 0.001
		c.Events.RateBurst = 2
	})
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 1, "p")
	require.NoError(t, b.SubscribeEx(ctx, msgX, p, types.DefaultQoS, 100))

	for i := 0; i < 10; i++ {
		require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
	}

	assert.Equal(t, uint64(9), b.Stats().PipeOverflowErrorCounter, "counters are never rate limited")
	assert.Equal(t, 2, rec.Count(types.EventQueueFullError))
	assert.Equal(t, uint64(7), b.SuppressedEvents(types.EventQueueFullError))
}

func TestSinkRecursionIsStopped(t *testing.T) {
	var b *Bus
	var reported atomic.Int32
	sink := events.SinkFunc(func(ev types.Event) {
		if ev.EventID != types.EventQueueFullError {
			return
		}
		reported.Add(1)
		// A sink that forwards events as telemetry onto the overflowing
		// route would otherwise recurse forever
		msg, _ := packet.New(msgX, 16)
		_ = b.TransmitMsg(taskCtx(ev.Task), msg, true)
	})

	b, _ = newTestBus(t, func(c *config.Config) {
		c.Events.RateLimit = 1000
		c.Events.RateBurst = 1000
	}, WithSink(sink))
	ctx := taskCtx(1)
	p := mustPipe(t, b, ctx, 1, "p")
	require.NoError(t, b.SubscribeEx(ctx, msgX, p, types.DefaultQoS, 100))

	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))

	assert.Equal(t, int32(1), reported.Load())
	assert.Equal(t, uint64(2), b.Stats().PipeOverflowErrorCounter)

	// The guard is released once the event has been reported
	require.NoError(t, b.TransmitMsg(ctx, newMsg(t, msgX, 16), true))
	assert.Equal(t, int32(2), reported.Load())
}

func TestConcurrentSendReceive(t *testing.T) {
	const (
		senders   = 4
		perSender = 50
		total     = senders * perSender
	)

	b, _ := newTestBus(t, func(c *config.Config) { c.Bus.MaxPipeDepth = total })
	rx := taskCtx(100)
	p := mustPipe(t, b, rx, total, "sink")
	require.NoError(t, b.SubscribeEx(rx, msgX, p, types.DefaultQoS, total))

	g, _ := errgroup.WithContext(context.Background())
	var received int
	g.Go(func() error {
		for received < total {
			if _, err := b.ReceiveBuffer(rx, p, 2000); err != nil {
				return err
			}
			received++
		}
		return nil
	})
	for s := 0; s < senders; s++ {
		ctx := taskCtx(types.TaskID(s + 1))
		g.Go(func() error {
			for i := 0; i < perSender; i++ {
				msg, err := packet.New(msgX, 32)
				if err != nil {
					return err
				}
				if err := b.TransmitMsg(ctx, msg, true); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	s := b.Stats()
	assert.Equal(t, total, received)
	assert.Zero(t, s.PipeOverflowErrorCounter)
	assert.Zero(t, s.MsgLimitErrorCounter)
	assert.Equal(t, uint16(total), b.RoutingSnapshot()[0].SeqCount)
	assert.Equal(t, 1, s.Pool.BufsInUse, "only the last received buffer is held")
}
