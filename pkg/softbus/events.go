package softbus

import (
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/types"
)

// eventSource is the Source of every event the bus reports
const eventSource = "softbus"

// Recursion guard bits. While a task is reporting one of these events, a
// second event of the same kind from the same task is suppressed, so a sink
// that forwards events back onto the bus cannot loop.
const (
	bitSendBadArg uint32 = 1 << iota
	bitSendInvalidMsgID
	bitMsgTooBig
	bitGetBufError
	bitMsgIDLimit
	bitQueueFull
	bitQueueWrite
	bitReceiveBadArg
	bitBadPipeID
)

// rateLimitedEvents can fire once per send per destination, so they are
// throttled per event ID
var rateLimitedEvents = []types.EventID{
	types.EventMsgIDLimitError,
	types.EventQueueFullError,
	types.EventQueueWriteError,
	types.EventSendInvalidMsgID,
	types.EventMsgTooBig,
	types.EventGetBufError,
}

// pendingEvent is an event built under the bus lock and reported after it
// is released
type pendingEvent struct {
	event types.Event
	guard uint32
}

func (b *Bus) event(task types.TaskID, id types.EventID, typ types.EventType, msg string, labels map[string]string) pendingEvent {
	return pendingEvent{event: types.Event{
		EventID: id,
		Type:    typ,
		Source:  eventSource,
		Task:    task,
		Message: msg,
		Labels:  labels,
	}}
}

func (b *Bus) guarded(task types.TaskID, id types.EventID, guard uint32, format string, args ...any) pendingEvent {
	ev := b.event(task, id, types.EventTypeError, fmt.Sprintf(format, args...), nil)
	ev.guard = guard
	return ev
}

// emit reports events to the sink. It must not be called with b.mu held.
func (b *Bus) emit(evs []pendingEvent) {
	for _, pe := range evs {
		if !b.limiter.Allow(pe.event.EventID) {
			continue
		}
		if pe.guard == 0 {
			b.sink.Report(pe.event)
			continue
		}
		if !b.requestToSend(pe.event.Task, pe.guard) {
			continue
		}
		b.sink.Report(pe.event)
		b.finishSend(pe.event.Task, pe.guard)
	}
}

func (b *Bus) requestToSend(task types.TaskID, bit uint32) bool {
	b.recurseMu.Lock()
	defer b.recurseMu.Unlock()

	if b.stopRecurse[task]&bit != 0 {
		return false
	}
	b.stopRecurse[task] |= bit
	return true
}

func (b *Bus) finishSend(task types.TaskID, bit uint32) {
	b.recurseMu.Lock()
	defer b.recurseMu.Unlock()

	b.stopRecurse[task] &^= bit
	if b.stopRecurse[task] == 0 {
		delete(b.stopRecurse, task)
	}
}

// SuppressedEvents returns how many events of id were dropped by rate limiting
func (b *Bus) SuppressedEvents(id types.EventID) uint64 {
	return b.limiter.Suppressed(id)
}
