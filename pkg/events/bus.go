// Package events is the event sink the software bus reports into.
//
// Report never blocks and never fails the caller: events are queued for an
// asynchronous dispatcher and dropped (and counted) when the queue is full.
package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/billm/baaaht/softbus/internal/config"
	"github.com/billm/baaaht/softbus/internal/logger"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// Sink receives bus events. Implementations must not block.
type Sink interface {
	Report(event types.Event)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(event types.Event)

// Report implements Sink
func (f SinkFunc) Report(event types.Event) { f(event) }

// Discard drops every event
var Discard Sink = SinkFunc(func(types.Event) {})

// Bus is an asynchronous Sink that fans events out to subscribed handlers
type Bus struct {
	mu            sync.RWMutex
	subscriptions map[types.ID]*types.EventSubscription
	middleware    *MiddlewareChain
	logger        *logger.Logger
	timeout       time.Duration
	closed        atomic.Bool
	wg            sync.WaitGroup
	publishCh     chan types.Event
	closeCh       chan struct{}

	reported  atomic.Uint64
	dropped   atomic.Uint64
	filtered  atomic.Uint64
	delivered atomic.Uint64
	failures  atomic.Uint64
}

// New creates a new event bus and starts its dispatcher
func New(cfg config.EventConfig, log *logger.Logger) (*Bus, error) {
	if log == nil {
		var err error
		log, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}
	if cfg.QueueSize <= 0 {
		return nil, types.NewError(types.ErrCodeInvalidArgument, "event queue size must be positive")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	b := &Bus{
		subscriptions: make(map[types.ID]*types.EventSubscription),
		middleware:    NewMiddlewareChain(),
		logger:        log.With("component", "event_bus"),
		timeout:       timeout,
		publishCh:     make(chan types.Event, cfg.QueueSize),
		closeCh:       make(chan struct{}),
	}
	if !cfg.DebugLevel {
		b.middleware.Add(NewTypeFilterMiddleware(types.EventTypeInfo, types.EventTypeError, types.EventTypeCritical))
	}
	if cfg.LogEvents {
		if _, err := b.Subscribe(types.EventFilter{}, NewLoggingHandler(log)); err != nil {
			return nil, err
		}
	}

	b.wg.Add(1)
	go b.publishWorker()

	b.logger.Debug("Event bus initialized", "queue_size", cfg.QueueSize)
	return b, nil
}

// Use appends middleware run synchronously inside Report
func (b *Bus) Use(mw Middleware) {
	b.middleware.Add(mw)
}

// Subscribe registers a handler for events matching the filter
func (b *Bus) Subscribe(filter types.EventFilter, handler types.EventHandler) (types.ID, error) {
	if handler == nil {
		return "", types.NewError(types.ErrCodeInvalid, "handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return "", types.NewError(types.ErrCodeUnavailable, "event bus is closed")
	}

	subID := types.GenerateID()
	b.subscriptions[subID] = &types.EventSubscription{
		ID:        subID,
		Filter:    filter,
		Handler:   handler,
		Active:    true,
		CreatedAt: types.NewTimestamp(),
	}

	b.logger.Debug("Subscription created", "subscription_id", subID)
	return subID, nil
}

// Unsubscribe removes a subscription
func (b *Bus) Unsubscribe(subID types.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscriptions[subID]; !exists {
		return types.NewError(types.ErrCodeNotFound, fmt.Sprintf("subscription not found: %s", subID))
	}
	delete(b.subscriptions, subID)

	b.logger.Debug("Subscription removed", "subscription_id", subID)
	return nil
}

// Report queues an event for dispatch. It never blocks.
func (b *Bus) Report(event types.Event) {
	if b.closed.Load() {
		b.dropped.Add(1)
		return
	}

	if event.ID == "" {
		event.ID = types.GenerateID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = types.NewTimestamp()
	}

	event, err := b.middleware.Process(context.Background(), event)
	if err != nil {
		b.filtered.Add(1)
		return
	}

	select {
	case b.publishCh <- event:
		b.reported.Add(1)
	default:
		b.dropped.Add(1)
	}
}

// publishWorker processes events from the publish channel
func (b *Bus) publishWorker() {
	defer b.wg.Done()

	for {
		select {
		case event := <-b.publishCh:
			b.dispatchEvent(event)
		case <-b.closeCh:
			for {
				select {
				case event := <-b.publishCh:
					b.dispatchEvent(event)
				default:
					return
				}
			}
		}
	}
}

// dispatchEvent hands an event to every matching handler in turn
func (b *Bus) dispatchEvent(event types.Event) {
	b.mu.RLock()
	handlers := make([]*types.EventSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if sub.Active && MatchesFilter(event, sub.Filter) && sub.Handler.CanHandle(event.Type) {
			handlers = append(handlers, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range handlers {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		err := sub.Handler.Handle(ctx, event)
		cancel()
		if err != nil {
			b.failures.Add(1)
			b.logger.Warn("Event handler failed",
				"subscription_id", sub.ID,
				"event_id", event.EventID,
				"error", err)
			continue
		}
		b.delivered.Add(1)
	}
}

// MatchesFilter reports whether event passes filter
func MatchesFilter(event types.Event, filter types.EventFilter) bool {
	if filter.Type != nil && event.Type != *filter.Type {
		return false
	}
	if filter.Source != nil && event.Source != *filter.Source {
		return false
	}
	if filter.Task != nil && event.Task != *filter.Task {
		return false
	}
	if len(filter.EventIDs) > 0 {
		for _, id := range filter.EventIDs {
			if id == event.EventID {
				return true
			}
		}
		return false
	}
	return true
}

// Close stops the dispatcher after delivering what is already queued
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return types.NewError(types.ErrCodeInvalid, "event bus already closed")
	}

	close(b.closeCh)
	b.wg.Wait()

	b.logger.Debug("Event bus closed")
	return nil
}

// Stats returns statistics about the event bus
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	subs := len(b.subscriptions)
	b.mu.RUnlock()

	return BusStats{
		Subscriptions: subs,
		Pending:       len(b.publishCh),
		Reported:      b.reported.Load(),
		Dropped:       b.dropped.Load(),
		Filtered:      b.filtered.Load(),
		Delivered:     b.delivered.Load(),
		HandlerErrors: b.failures.Load(),
	}
}

// BusStats represents event bus statistics
type BusStats struct {
	Subscriptions int    `json:"subscriptions" yaml:"subscriptions"`
	Pending       int    `json:"pending" yaml:"pending"`
	Reported      uint64 `json:"reported" yaml:"reported"`
	Dropped       uint64 `json:"dropped" yaml:"dropped"`
	Filtered      uint64 `json:"filtered" yaml:"filtered"`
	Delivered     uint64 `json:"delivered" yaml:"delivered"`
	HandlerErrors uint64 `json:"handler_errors" yaml:"handler_errors"`
}

// String returns a string representation of the stats
func (s BusStats) String() string {
	return fmt.Sprintf("BusStats{Subs: %d, Pending: %d, Reported: %d, Dropped: %d, Filtered: %d, Delivered: %d, Errors: %d}",
		s.Subscriptions, s.Pending, s.Reported, s.Dropped, s.Filtered, s.Delivered, s.HandlerErrors)
}
