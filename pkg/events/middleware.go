package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/billm/baaaht/softbus/pkg/types"
	"golang.org/x/time/rate"
)

// Middleware inspects or rewrites an event before it is queued. Returning an
// error drops the event.
type Middleware interface {
	Process(ctx context.Context, event types.Event) (types.Event, error)
}

// MiddlewareFunc adapts a function to Middleware
type MiddlewareFunc func(ctx context.Context, event types.Event) (types.Event, error)

// Process implements Middleware
func (f MiddlewareFunc) Process(ctx context.Context, event types.Event) (types.Event, error) {
	return f(ctx, event)
}

// MiddlewareChain runs middleware in the order added
type MiddlewareChain struct {
	mu         sync.RWMutex
	middleware []Middleware
}

// NewMiddlewareChain creates a chain from mw
func NewMiddlewareChain(mw ...Middleware) *MiddlewareChain {
	return &MiddlewareChain{middleware: mw}
}

// Add appends mw to the chain
func (c *MiddlewareChain) Add(mw Middleware) {
	c.mu.Lock()
	c.middleware = append(c.middleware, mw)
	c.mu.Unlock()
}

// Len returns the number of middleware in the chain
func (c *MiddlewareChain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.middleware)
}

// Process runs event through every middleware, stopping at the first error
func (c *MiddlewareChain) Process(ctx context.Context, event types.Event) (types.Event, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var err error
	for _, mw := range c.middleware {
		event, err = mw.Process(ctx, event)
		if err != nil {
			return event, err
		}
	}
	return event, nil
}

// TypeFilterMiddleware passes only the listed event types
type TypeFilterMiddleware struct {
	allowed map[types.EventType]bool
}

// NewTypeFilterMiddleware creates a filter allowing the given types
func NewTypeFilterMiddleware(allowed ...types.EventType) *TypeFilterMiddleware {
	m := &TypeFilterMiddleware{allowed: make(map[types.EventType]bool, len(allowed))}
	for _, t := range allowed {
		m.allowed[t] = true
	}
	return m
}

// Process drops events whose type is not allowed
func (m *TypeFilterMiddleware) Process(ctx context.Context, event types.Event) (types.Event, error) {
	if !m.allowed[event.Type] {
		return event, types.NewError(types.ErrCodeInvalid, fmt.Sprintf("event type %s filtered", event.Type))
	}
	return event, nil
}

// RateLimitMiddleware keeps one token bucket per event ID so a burst of one
// kind of error cannot crowd out others. IDs not registered with Limit pass
// through untouched.
type RateLimitMiddleware struct {
	mu         sync.Mutex
	every      rate.Limit
	burst      int
	limited    map[types.EventID]bool
	limiters   map[types.EventID]*rate.Limiter
	suppressed map[types.EventID]uint64
}

// NewRateLimitMiddleware allows perSecond events per ID with the given burst
func NewRateLimitMiddleware(perSecond float64, burst int) (*RateLimitMiddleware, error) {
	if perSecond < 0 {
		return nil, types.NewError(types.ErrCodeInvalid, "rate limit cannot be negative")
	}
	if burst <= 0 {
		return nil, types.NewError(types.ErrCodeInvalid, "burst must be positive")
	}
	return &RateLimitMiddleware{
		every:      rate.Limit(perSecond),
		burst:      burst,
		limited:    make(map[types.EventID]bool),
		limiters:   make(map[types.EventID]*rate.Limiter),
		suppressed: make(map[types.EventID]uint64),
	}, nil
}

// Limit marks ids as rate limited
func (m *RateLimitMiddleware) Limit(ids ...types.EventID) *RateLimitMiddleware {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.limited[id] = true
	}
	return m
}

// Allow reports whether an event with id may be emitted now
func (m *RateLimitMiddleware) Allow(id types.EventID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.limited[id] {
		return true
	}
	lim, ok := m.limiters[id]
	if !ok {
		lim = rate.NewLimiter(m.every, m.burst)
		m.limiters[id] = lim
	}
	if lim.Allow() {
		return true
	}
	m.suppressed[id]++
	return false
}

// Process drops rate-limited events over their budget
func (m *RateLimitMiddleware) Process(ctx context.Context, event types.Event) (types.Event, error) {
	if !m.Allow(event.EventID) {
		return event, types.NewError(types.ErrCodeRateLimited,
			fmt.Sprintf("event %d rate limited", event.EventID))
	}
	return event, nil
}

// Suppressed returns how many events with id were dropped
func (m *RateLimitMiddleware) Suppressed(id types.EventID) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suppressed[id]
}
