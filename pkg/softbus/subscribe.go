package softbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/osal/task"
	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/routing"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// MaxMsgLimit is the largest per-subscription message limit
const MaxMsgLimit = 0xFFFF

// Subscribe routes id to pipe with the default QoS and message limit
func (b *Bus) Subscribe(ctx context.Context, id types.MsgID, pipe types.PipeID) error {
	return b.subscribe(ctx, id, pipe, types.DefaultQoS, b.cfg.DefaultMsgLimit, types.ScopeGlobal)
}

// SubscribeEx routes id to pipe with an explicit QoS and message limit.
// limit caps how many messages of id may be queued on the pipe at once.
func (b *Bus) SubscribeEx(ctx context.Context, id types.MsgID, pipe types.PipeID, qos types.QoS, limit int) error {
	return b.subscribe(ctx, id, pipe, qos, limit, types.ScopeGlobal)
}

// SubscribeLocal is Subscribe for a subscription that is never reported
func (b *Bus) SubscribeLocal(ctx context.Context, id types.MsgID, pipe types.PipeID, limit int) error {
	return b.subscribe(ctx, id, pipe, types.DefaultQoS, limit, types.ScopeLocal)
}

func (b *Bus) subscribe(ctx context.Context, id types.MsgID, pipe types.PipeID, qos types.QoS, limit int, scope types.Scope) error {
	caller := task.CurrentIdentity(ctx)

	fail := func(evID types.EventID, err error) error {
		b.counters.SubscribeErrorCounter++
		b.mu.Unlock()
		b.emit([]pendingEvent{b.event(caller, evID, types.EventTypeError,
			fmt.Sprintf("subscribe %s to pipe %s failed: %v", id, pipe, err), nil)})
		return err
	}

	b.mu.Lock()
	p, ok := b.pipes.Get(pipe)
	switch {
	case !ok:
		return fail(types.EventSubscribeArgError, badArg(fmt.Sprintf("pipe %s does not exist", pipe)))
	case p.Owner != caller:
		return fail(types.EventSubscribeArgError, badArg(fmt.Sprintf("pipe %s is owned by %s", pipe, b.tasks.NameOf(p.Owner))))
	case limit <= 0 || limit > MaxMsgLimit:
		return fail(types.EventSubscribeArgError, badArg(fmt.Sprintf("msg limit %d outside 1..%d", limit, MaxMsgLimit)))
	case !scope.Valid():
		return fail(types.EventSubscribeArgError, badArg(fmt.Sprintf("invalid scope %d", scope)))
	}

	added, err := b.routes.AddDestination(id, routing.Destination{
		Pipe:   pipe,
		Limit:  limit,
		Active: true,
		Scope:  scope,
		QoS:    qos,
	})
	if err != nil {
		evID := types.EventSubscribeArgError
		switch {
		case errors.Is(err, ErrMaxMsgsMet):
			evID = types.EventMaxMsgsMet
		case errors.Is(err, ErrMaxDestsMet):
			evID = types.EventMaxDestsMet
		}
		return fail(evID, err)
	}

	var report packet.Message
	var evs []pendingEvent
	if !added {
		b.counters.DuplicateSubscriptionsCounter++
		evs = append(evs, b.event(caller, types.EventDuplicateSubscribe, types.EventTypeInfo,
			fmt.Sprintf("duplicate subscription to %s on pipe %s %s", id, pipe, p.Name), nil))
	} else {
		evs = append(evs, b.event(caller, types.EventSubscriptionRcvd, types.EventTypeDebug,
			fmt.Sprintf("subscription to %s on pipe %s %s", id, pipe, p.Name),
			map[string]string{"msg_id": id.String(), "pipe": pipe.String()}))
		if b.reporting && scope == types.ScopeGlobal {
			report = b.oneSubReport(SubTypeSubscribe, id, qos)
		}
	}
	b.mu.Unlock()

	b.emit(evs)
	if report != nil {
		b.sendReport(ctx, report)
	}
	return nil
}

// Unsubscribe removes the route from id to pipe
func (b *Bus) Unsubscribe(ctx context.Context, id types.MsgID, pipe types.PipeID) error {
	return b.unsubscribe(ctx, id, pipe, types.ScopeGlobal)
}

// UnsubscribeLocal is Unsubscribe for a local subscription; no report is sent
func (b *Bus) UnsubscribeLocal(ctx context.Context, id types.MsgID, pipe types.PipeID) error {
	return b.unsubscribe(ctx, id, pipe, types.ScopeLocal)
}

func (b *Bus) unsubscribe(ctx context.Context, id types.MsgID, pipe types.PipeID, scope types.Scope) error {
	caller := task.CurrentIdentity(ctx)

	b.mu.Lock()
	p, ok := b.pipes.Get(pipe)
	if !ok || p.Owner != caller || !b.routes.ValidMsgID(id) {
		b.mu.Unlock()
		msg := fmt.Sprintf("unsubscribe %s from pipe %s: bad argument", id, pipe)
		b.emit([]pendingEvent{b.event(caller, types.EventUnsubscribeArgError, types.EventTypeError, msg, nil)})
		return badArg(msg)
	}

	removed, err := b.routes.RemoveDestination(id, pipe)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if !removed {
		b.mu.Unlock()
		b.emit([]pendingEvent{b.event(caller, types.EventUnsubscribeNoSubs, types.EventTypeInfo,
			fmt.Sprintf("unsubscribe %s from pipe %s %s: no subscription", id, pipe, p.Name), nil)})
		return nil
	}

	var report packet.Message
	if b.reporting && scope == types.ScopeGlobal {
		report = b.oneSubReport(SubTypeUnsubscribe, id, types.DefaultQoS)
	}
	name := p.Name
	b.mu.Unlock()

	b.emit([]pendingEvent{b.event(caller, types.EventSubscriptionRemoved, types.EventTypeDebug,
		fmt.Sprintf("subscription to %s removed from pipe %s %s", id, pipe, name), nil)})
	if report != nil {
		b.sendReport(ctx, report)
	}
	return nil
}
