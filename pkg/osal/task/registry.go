// Package task tracks the tasks that own pipes and buffers and carries the
// calling task's identity through context.Context.
package task

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/billm/baaaht/softbus/internal/logger"
	"github.com/billm/baaaht/softbus/pkg/types"
)

type ctxKey struct{}

// WithID returns a context that identifies the calling task as id
func WithID(ctx context.Context, id types.TaskID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the task ID stored by WithID
func FromContext(ctx context.Context) (types.TaskID, bool) {
	if ctx == nil {
		return types.InvalidTaskID, false
	}
	id, ok := ctx.Value(ctxKey{}).(types.TaskID)
	return id, ok && id != types.InvalidTaskID
}

// CurrentIdentity returns the calling task, or InvalidTaskID
func CurrentIdentity(ctx context.Context) types.TaskID {
	id, _ := FromContext(ctx)
	return id
}

// Info describes a registered task
type Info struct {
	ID           types.TaskID    `json:"id" yaml:"id"`
	Name         string          `json:"name" yaml:"name"`
	RegisteredAt types.Timestamp `json:"registered_at" yaml:"registered_at"`
}

// Registry assigns task IDs and resolves them to names
type Registry struct {
	mu     sync.RWMutex
	next   types.TaskID
	tasks  map[types.TaskID]Info
	names  map[string]types.TaskID
	logger *logger.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &Registry{
		next:   1,
		tasks:  make(map[types.TaskID]Info),
		names:  make(map[string]types.TaskID),
		logger: log.With("component", "task_registry"),
	}
}

// Register adds a task and returns its ID. Names must be unique.
func (r *Registry) Register(name string) (types.TaskID, error) {
	if name == "" {
		return types.InvalidTaskID, types.NewError(types.ErrCodeInvalidArgument, "task name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[name]; exists {
		return types.InvalidTaskID, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("task already registered: %s", name))
	}

	id := r.next
	r.next++
	r.tasks[id] = Info{ID: id, Name: name, RegisteredAt: types.NewTimestamp()}
	r.names[name] = id

	r.logger.Debug("Task registered", "task_id", id, "name", name)
	return id, nil
}

// Unregister removes a task
func (r *Registry) Unregister(id types.TaskID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, ok := r.tasks[id]
	if !ok {
		return types.NewError(types.ErrCodeNotFound, fmt.Sprintf("task not found: %s", id))
	}
	delete(r.tasks, id)
	delete(r.names, info.Name)

	r.logger.Debug("Task unregistered", "task_id", id, "name", info.Name)
	return nil
}

// Lookup returns the registration for id
func (r *Registry) Lookup(id types.TaskID) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tasks[id]
	return info, ok
}

// NameOf returns the registered name of id, or its numeric form when unknown.
// Used for diagnostics only.
func (r *Registry) NameOf(id types.TaskID) string {
	if info, ok := r.Lookup(id); ok {
		return info.Name
	}
	return id.String()
}

// List returns every registered task ordered by ID
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Info, 0, len(r.tasks))
	for _, info := range r.tasks {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Context registers name and returns a context carrying its identity
func (r *Registry) Context(ctx context.Context, name string) (context.Context, types.TaskID, error) {
	id, err := r.Register(name)
	if err != nil {
		return ctx, types.InvalidTaskID, err
	}
	return WithID(ctx, id), id, nil
}
