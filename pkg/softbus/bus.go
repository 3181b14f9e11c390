// Package softbus is the in-process software bus. Tasks create pipes,
// subscribe them to message IDs and send packets; the bus fans each packet
// out to every subscribed pipe with one shared, reference-counted copy.
//
// The routing table, pipe table and buffer bookkeeping sit behind a single
// mutex. Queue puts never block, so a whole send runs under that lock; the
// wait in ReceiveBuffer happens outside it.
package softbus

import (
	"fmt"
	"sync"

	"github.com/billm/baaaht/softbus/internal/config"
	"github.com/billm/baaaht/softbus/internal/logger"
	"github.com/billm/baaaht/softbus/pkg/bufpool"
	"github.com/billm/baaaht/softbus/pkg/events"
	"github.com/billm/baaaht/softbus/pkg/osal/blockpool"
	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/pipes"
	"github.com/billm/baaaht/softbus/pkg/routing"
	"github.com/billm/baaaht/softbus/pkg/types"
)

const (
	// Poll makes ReceiveBuffer return ErrNoMessage instead of waiting
	Poll = 0
	// PendForever makes ReceiveBuffer wait until a message arrives
	PendForever = -1
)

// TaskNamer resolves task IDs for diagnostics. *task.Registry satisfies it.
type TaskNamer interface {
	NameOf(id types.TaskID) string
}

type idNamer struct{}

func (idNamer) NameOf(id types.TaskID) string { return id.String() }

// Bus is the software bus
type Bus struct {
	mu        sync.Mutex
	cfg       config.BusConfig
	logger    *logger.Logger
	sink      events.Sink
	limiter   *events.RateLimitMiddleware
	tasks     TaskNamer
	pool      *bufpool.Pool
	pipes     *pipes.Table
	routes    *routing.Table
	reporting bool
	counters  Counters

	recurseMu   sync.Mutex
	stopRecurse map[types.TaskID]uint32
}

type options struct {
	logger   *logger.Logger
	sink     events.Sink
	tasks    TaskNamer
	alloc    bufpool.Allocator
	newQueue pipes.QueueFactory
}

// Option configures a Bus
type Option func(*options)

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option { return func(o *options) { o.logger = l } }

// WithSink sets where bus events are reported
func WithSink(s events.Sink) Option { return func(o *options) { o.sink = s } }

// WithTaskNamer sets the registry used to name tasks in events
func WithTaskNamer(n TaskNamer) Option { return func(o *options) { o.tasks = n } }

// WithAllocator replaces the block allocator built from the pool config
func WithAllocator(a bufpool.Allocator) Option { return func(o *options) { o.alloc = a } }

// WithQueueFactory replaces the queue used for new pipes
func WithQueueFactory(f pipes.QueueFactory) Option { return func(o *options) { o.newQueue = f } }

// New creates a bus sized by cfg
func New(cfg *config.Config, opts ...Option) (*Bus, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Bus.Validate(); err != nil {
		return nil, err
	}
	if need := allSubsPacketSize(cfg.Bus.SubEntriesPerPkt); need > cfg.Bus.MaxMsgSize {
		return nil, types.NewError(types.ErrCodeInvalidArgument,
			fmt.Sprintf("subscription report of %d bytes exceeds max msg size %d", need, cfg.Bus.MaxMsgSize))
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		var err error
		o.logger, err = logger.NewDefault()
		if err != nil {
			return nil, types.WrapError(types.ErrCodeInternal, "failed to create default logger", err)
		}
	}
	if o.sink == nil {
		o.sink = events.Discard
	}
	if o.tasks == nil {
		o.tasks = idNamer{}
	}
	if o.alloc == nil {
		bp, err := blockpool.New(cfg.Pool.MemoryBytes, cfg.Pool.BlockSizes)
		if err != nil {
			return nil, err
		}
		o.alloc = bp
	}

	pool, err := bufpool.New(o.alloc, o.logger)
	if err != nil {
		return nil, err
	}

	limiter, err := events.NewRateLimitMiddleware(cfg.Events.RateLimit, cfg.Events.RateBurst)
	if err != nil {
		return nil, err
	}
	limiter.Limit(rateLimitedEvents...)

	b := &Bus{
		cfg:         cfg.Bus,
		logger:      o.logger.With("component", "softbus"),
		sink:        o.sink,
		limiter:     limiter,
		tasks:       o.tasks,
		pool:        pool,
		pipes:       pipes.NewTable(cfg.Bus.MaxPipes, cfg.Bus.MaxPipeDepth, cfg.Bus.MaxPipeNameLen, o.newQueue),
		routes:      routing.NewTable(cfg.Bus.MaxMsgIDs, cfg.Bus.MaxDestsPerMsgID, types.MsgID(cfg.Bus.HighestValidMsgID)),
		reporting:   cfg.Bus.SubscriptionReporting,
		stopRecurse: make(map[types.TaskID]uint32),
	}

	b.logger.Info("Software bus initialized",
		"max_pipes", cfg.Bus.MaxPipes,
		"max_msg_ids", cfg.Bus.MaxMsgIDs,
		"max_dests", cfg.Bus.MaxDestsPerMsgID,
		"pool_bytes", cfg.Pool.MemoryBytes)
	b.emit([]pendingEvent{b.event(types.InvalidTaskID, types.EventInit, types.EventTypeInfo,
		"software bus initialized", nil)})
	return b, nil
}

// Close deletes every pipe and releases every outstanding zero-copy buffer
func (b *Bus) Close() error {
	var evs []pendingEvent

	b.mu.Lock()
	var ids []types.PipeID
	b.pipes.Each(func(p *pipes.Pipe) { ids = append(ids, p.ID) })
	for _, id := range ids {
		b.removePipe(id)
	}
	for _, d := range b.pool.ZeroCopy() {
		if b.pool.Untrack(d) {
			b.releaseLocked(d, &evs)
		}
	}
	b.mu.Unlock()

	b.emit(evs)
	b.logger.Info("Software bus closed", "pipes_deleted", len(ids))
	return nil
}

// releaseLocked drops a reference, recording an internal error event if the
// descriptor was already released
func (b *Bus) releaseLocked(d *bufpool.Descriptor, evs *[]pendingEvent) {
	if err := b.pool.Release(d); err != nil {
		b.counters.InternalErrorCounter++
		*evs = append(*evs, b.event(types.InvalidTaskID, types.EventInternalError, types.EventTypeError,
			"buffer release failed: "+err.Error(), nil))
	}
}

// MaxMsgSize returns the largest packet the bus accepts
func (b *Bus) MaxMsgSize() int { return b.cfg.MaxMsgSize }

// NewMessage allocates an unpooled message with its header initialised
func NewMessage(id types.MsgID, size int) (packet.Message, error) {
	return packet.New(id, size)
}
