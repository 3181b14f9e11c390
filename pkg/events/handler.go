package events

import (
	"context"
	"sync"

	"github.com/billm/baaaht/softbus/internal/logger"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// LoggingHandler writes every event to the logger at a level matching its type
type LoggingHandler struct {
	logger *logger.Logger
}

// NewLoggingHandler creates a new logging handler
func NewLoggingHandler(log *logger.Logger) *LoggingHandler {
	if log == nil {
		log = logger.NewDiscard()
	}
	return &LoggingHandler{logger: log.With("component", "events")}
}

// Handle logs the event
func (h *LoggingHandler) Handle(ctx context.Context, event types.Event) error {
	args := []any{
		"event_id", event.EventID,
		"source", event.Source,
	}
	if event.Task != types.InvalidTaskID {
		args = append(args, "task", event.Task)
	}
	for k, v := range event.Labels {
		args = append(args, k, v)
	}

	switch event.Type {
	case types.EventTypeDebug:
		h.logger.Debug(event.Message, args...)
	case types.EventTypeInfo:
		h.logger.Info(event.Message, args...)
	default:
		h.logger.Error(event.Message, args...)
	}
	return nil
}

// CanHandle implements types.EventHandler
func (h *LoggingHandler) CanHandle(eventType types.EventType) bool {
	return true
}

// Recorder is a synchronous Sink that keeps every event it receives. It is
// used by tests and by the CLI to show what a run reported.
type Recorder struct {
	mu     sync.Mutex
	events []types.Event
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Report implements Sink
func (r *Recorder) Report(event types.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Handle implements types.EventHandler so a Recorder can subscribe to a Bus
func (r *Recorder) Handle(ctx context.Context, event types.Event) error {
	r.Report(event)
	return nil
}

// CanHandle implements types.EventHandler
func (r *Recorder) CanHandle(eventType types.EventType) bool {
	return true
}

// Events returns a copy of everything recorded
func (r *Recorder) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

// Count returns how many events with id were recorded
func (r *Recorder) Count(id types.EventID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.events {
		if e.EventID == id {
			n++
		}
	}
	return n
}

// Reset discards everything recorded
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
