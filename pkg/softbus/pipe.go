package softbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/osal/task"
	"github.com/billm/baaaht/softbus/pkg/pipes"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// CreatePipe creates a pipe owned by the calling task
func (b *Bus) CreatePipe(ctx context.Context, depth int, name string) (types.PipeID, error) {
	caller := task.CurrentIdentity(ctx)
	if caller == types.InvalidTaskID {
		b.mu.Lock()
		b.counters.CreatePipeErrorCounter++
		b.mu.Unlock()
		b.emit([]pendingEvent{b.event(caller, types.EventCreatePipeBadArg, types.EventTypeError,
			"create pipe: caller has no task identity", nil)})
		return types.InvalidPipeID, badArg("caller has no task identity")
	}

	b.mu.Lock()
	p, err := b.pipes.Alloc(name, caller, depth)
	if err != nil {
		b.counters.CreatePipeErrorCounter++
		b.mu.Unlock()

		id := types.EventCreatePipeError
		switch {
		case errors.Is(err, ErrBadArgument):
			id = types.EventCreatePipeBadArg
		case errors.Is(err, ErrMaxPipesMet):
			id = types.EventCreatePipeMaxPipes
		}
		b.emit([]pendingEvent{b.event(caller, id, types.EventTypeError,
			fmt.Sprintf("create pipe %q failed: %v", name, err), nil)})
		return types.InvalidPipeID, err
	}
	pipeID := p.ID
	b.mu.Unlock()

	b.logger.Debug("Pipe created", "pipe", pipeID, "name", name, "depth", depth, "owner", caller)
	b.emit([]pendingEvent{b.event(caller, types.EventPipeAdded, types.EventTypeDebug,
		fmt.Sprintf("pipe %s created: name %s depth %d", pipeID, name, depth),
		map[string]string{"pipe": pipeID.String(), "name": name})})
	return pipeID, nil
}

// DeletePipe deletes a pipe owned by the calling task. Its subscriptions go
// away, and queued and held buffers are released.
func (b *Bus) DeletePipe(ctx context.Context, id types.PipeID) error {
	return b.deletePipe(task.CurrentIdentity(ctx), id, true)
}

// DeletePipeAsOwner deletes a pipe whatever task owns it. It is the cleanup
// path for terminated tasks.
func (b *Bus) DeletePipeAsOwner(ctx context.Context, id types.PipeID) error {
	return b.deletePipe(task.CurrentIdentity(ctx), id, false)
}

func (b *Bus) deletePipe(caller types.TaskID, id types.PipeID, checkOwner bool) error {
	b.mu.Lock()
	p, ok := b.pipes.Get(id)
	if !ok || (checkOwner && p.Owner != caller) {
		b.mu.Unlock()
		msg := fmt.Sprintf("delete pipe %s: no such pipe", id)
		if ok {
			msg = fmt.Sprintf("delete pipe %s: owned by %s, caller %s",
				id, b.tasks.NameOf(p.Owner), b.tasks.NameOf(caller))
		}
		b.emit([]pendingEvent{b.event(caller, types.EventDeletePipeError, types.EventTypeError, msg, nil)})
		return badArg(msg)
	}
	name := p.Name
	evs := b.removePipe(id)
	b.mu.Unlock()

	b.logger.Debug("Pipe deleted", "pipe", id, "name", name)
	evs = append(evs, b.event(caller, types.EventPipeDeleted, types.EventTypeDebug,
		fmt.Sprintf("pipe %s deleted: name %s", id, name),
		map[string]string{"pipe": id.String(), "name": name}))
	b.emit(evs)
	return nil
}

// removePipe tears down a pipe. Callers hold b.mu and have checked id.
func (b *Bus) removePipe(id types.PipeID) []pendingEvent {
	var evs []pendingEvent
	p, _ := b.pipes.Get(id)

	b.routes.RemovePipe(id)

	if p.Current != nil {
		b.releaseLocked(p.Current, &evs)
		p.Current = nil
	}
	for _, d := range p.Queue.Drain() {
		b.releaseLocked(d, &evs)
	}
	if err := p.Queue.Destroy(); err != nil {
		b.counters.InternalErrorCounter++
		b.logger.Error("Failed to destroy pipe queue", "pipe", id, "error", err)
	}
	if err := b.pipes.Free(id); err != nil {
		b.counters.InternalErrorCounter++
		b.logger.Error("Failed to free pipe slot", "pipe", id, "error", err)
	}
	return evs
}

// CleanupTask deletes every pipe owned by t and releases its zero-copy
// buffers
func (b *Bus) CleanupTask(ctx context.Context, t types.TaskID) error {
	var evs []pendingEvent

	b.mu.Lock()
	owned := b.pipes.OwnedBy(t)
	for _, id := range owned {
		evs = append(evs, b.removePipe(id)...)
	}
	zc := b.pool.OwnedBy(t)
	for _, d := range zc {
		// A concurrent send or release may have claimed it first
		if b.pool.Untrack(d) {
			b.releaseLocked(d, &evs)
		}
	}
	b.mu.Unlock()

	b.logger.Info("Task resources released", "task", b.tasks.NameOf(t),
		"pipes", len(owned), "zero_copy_buffers", len(zc))
	evs = append(evs, b.event(task.CurrentIdentity(ctx), types.EventCleanupTask, types.EventTypeDebug,
		fmt.Sprintf("released %d pipes and %d buffers of %s", len(owned), len(zc), b.tasks.NameOf(t)), nil))
	b.emit(evs)
	return nil
}

// SetPipeOpts replaces the options of a pipe owned by the calling task
func (b *Bus) SetPipeOpts(ctx context.Context, id types.PipeID, opts pipes.Options) error {
	caller := task.CurrentIdentity(ctx)
	if opts&^pipes.ValidOptions != 0 {
		b.emit([]pendingEvent{b.event(caller, types.EventSetPipeOpts, types.EventTypeError,
			fmt.Sprintf("set pipe opts %s: unknown option bits 0x%02X", id, uint8(opts)), nil)})
		return badArg(fmt.Sprintf("unknown pipe option bits 0x%02X", uint8(opts)))
	}

	b.mu.Lock()
	p, ok := b.pipes.Get(id)
	if !ok || p.Owner != caller {
		b.mu.Unlock()
		b.emit([]pendingEvent{b.event(caller, types.EventSetPipeOpts, types.EventTypeError,
			fmt.Sprintf("set pipe opts %s: not a pipe owned by caller", id), nil)})
		return badArg(fmt.Sprintf("pipe %s is not owned by caller", id))
	}
	p.Opts = opts
	b.mu.Unlock()

	b.emit([]pendingEvent{b.event(caller, types.EventSetPipeOpts, types.EventTypeDebug,
		fmt.Sprintf("pipe %s opts set to 0x%02X", id, uint8(opts)), nil)})
	return nil
}

// GetPipeOpts returns the options of a pipe
func (b *Bus) GetPipeOpts(ctx context.Context, id types.PipeID) (pipes.Options, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pipes.Get(id)
	if !ok {
		return 0, badArg(fmt.Sprintf("pipe %s does not exist", id))
	}
	return p.Opts, nil
}

// GetPipeName returns the name of a pipe
func (b *Bus) GetPipeName(ctx context.Context, id types.PipeID) (string, error) {
	b.mu.Lock()
	p, ok := b.pipes.Get(id)
	var name string
	if ok {
		name = p.Name
	}
	b.mu.Unlock()

	if !ok {
		b.emit([]pendingEvent{b.event(task.CurrentIdentity(ctx), types.EventGetPipeName, types.EventTypeError,
			fmt.Sprintf("get pipe name: pipe %s does not exist", id), nil)})
		return "", badArg(fmt.Sprintf("pipe %s does not exist", id))
	}
	return name, nil
}

// GetPipeIDByName finds a pipe by name
func (b *Bus) GetPipeIDByName(ctx context.Context, name string) (types.PipeID, error) {
	b.mu.Lock()
	p, ok := b.pipes.ByName(name)
	id := types.InvalidPipeID
	if ok {
		id = p.ID
	}
	b.mu.Unlock()

	if !ok {
		b.emit([]pendingEvent{b.event(task.CurrentIdentity(ctx), types.EventGetPipeIDByName, types.EventTypeError,
			fmt.Sprintf("get pipe id: no pipe named %q", name), nil)})
		return types.InvalidPipeID, badArg(fmt.Sprintf("no pipe named %q", name))
	}
	return id, nil
}

// PipeInfo returns a snapshot of one pipe
func (b *Bus) PipeInfo(ctx context.Context, id types.PipeID) (pipes.Info, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.pipes.Get(id)
	if !ok {
		return pipes.Info{}, badArg(fmt.Sprintf("pipe %s does not exist", id))
	}
	info := p.Info()
	info.OwnerName = b.tasks.NameOf(p.Owner)
	return info, nil
}
