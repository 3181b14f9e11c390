package softbus

import (
	"context"
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/osal/task"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// EnableRoute resumes delivery of id to pipe
func (b *Bus) EnableRoute(ctx context.Context, id types.MsgID, pipe types.PipeID) error {
	return b.setRoute(ctx, id, pipe, true)
}

// DisableRoute stops delivery of id to pipe without removing the
// subscription
func (b *Bus) DisableRoute(ctx context.Context, id types.MsgID, pipe types.PipeID) error {
	return b.setRoute(ctx, id, pipe, false)
}

func (b *Bus) setRoute(ctx context.Context, id types.MsgID, pipe types.PipeID, active bool) error {
	caller := task.CurrentIdentity(ctx)

	b.mu.Lock()
	err := b.routes.SetActive(id, pipe, active)
	if err != nil {
		b.counters.CommandErrorCounter++
	} else {
		b.counters.CommandCounter++
	}
	b.mu.Unlock()

	if err != nil {
		b.emit([]pendingEvent{b.event(caller, types.EventRouteCmdError, types.EventTypeError,
			fmt.Sprintf("route command for %s on pipe %s failed: %v", id, pipe, err), nil)})
		return badArg(fmt.Sprintf("%s is not routed to pipe %s", id, pipe))
	}

	evID, verb := types.EventEnableRoute, "enabled"
	if !active {
		evID, verb = types.EventDisableRoute, "disabled"
	}
	b.emit([]pendingEvent{b.event(caller, evID, types.EventTypeDebug,
		fmt.Sprintf("route %s to pipe %s %s", id, pipe, verb), nil)})
	return nil
}

// EnableSubscriptionReporting turns on one-subscription reports
func (b *Bus) EnableSubscriptionReporting(ctx context.Context) {
	b.setReporting(ctx, true)
}

// DisableSubscriptionReporting turns off one-subscription reports
func (b *Bus) DisableSubscriptionReporting(ctx context.Context) {
	b.setReporting(ctx, false)
}

func (b *Bus) setReporting(ctx context.Context, on bool) {
	b.mu.Lock()
	b.reporting = on
	b.counters.CommandCounter++
	b.mu.Unlock()

	evID, msg := types.EventSubRptEnabled, "subscription reporting enabled"
	if !on {
		evID, msg = types.EventSubRptDisabled, "subscription reporting disabled"
	}
	b.emit([]pendingEvent{b.event(task.CurrentIdentity(ctx), evID, types.EventTypeDebug, msg, nil)})
}

// SubscriptionReporting reports whether one-subscription reports are on
func (b *Bus) SubscriptionReporting() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reporting
}

// ResetCounters zeroes the housekeeping counters. Peaks are kept.
func (b *Bus) ResetCounters(ctx context.Context) {
	b.mu.Lock()
	b.counters = Counters{}
	b.mu.Unlock()
	b.logger.Info("Housekeeping counters reset", "task", b.tasks.NameOf(task.CurrentIdentity(ctx)))
}
