package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/billm/baaaht/softbus/internal/config"
	"github.com/billm/baaaht/softbus/internal/logger"
	"github.com/billm/baaaht/softbus/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingHandler holds the dispatcher until released
type blockingHandler struct {
	release chan struct{}
	once    sync.Once
}

func (h *blockingHandler) Handle(ctx context.Context, event types.Event) error {
	<-h.release
	return nil
}

func (h *blockingHandler) CanHandle(types.EventType) bool { return true }

func (h *blockingHandler) unblock() { h.once.Do(func() { close(h.release) }) }

func testConfig() config.EventConfig {
	cfg := config.DefaultEventConfig()
	cfg.LogEvents = false
	return cfg
}

func newTestBus(t *testing.T, cfg config.EventConfig) *Bus {
	t.Helper()
	bus, err := New(cfg, logger.NewDiscard())
	require.NoError(t, err)
	return bus
}

func TestBusDeliversToMatchingHandlers(t *testing.T) {
	bus := newTestBus(t, testConfig())

	all := NewRecorder()
	errsOnly := NewRecorder()
	errType := types.EventTypeError

	_, err := bus.Subscribe(types.EventFilter{}, all)
	require.NoError(t, err)
	_, err = bus.Subscribe(types.EventFilter{Type: &errType}, errsOnly)
	require.NoError(t, err)

	bus.Report(types.Event{EventID: types.EventPipeAdded, Type: types.EventTypeInfo, Message: "added"})
	bus.Report(types.Event{EventID: types.EventQueueFullError, Type: types.EventTypeError, Message: "full"})

	require.NoError(t, bus.Close())

	events := all.Events()
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].ID, "report assigns an ID")
	assert.False(t, events[0].Timestamp.IsZero(), "report assigns a timestamp")
	assert.Equal(t, 1, errsOnly.Count(types.EventQueueFullError))
	assert.Equal(t, 0, errsOnly.Count(types.EventPipeAdded))

	s := bus.Stats()
	assert.Equal(t, uint64(2), s.Reported)
	assert.Equal(t, uint64(3), s.Delivered)
}

func TestBusFiltersDebugUnlessEnabled(t *testing.T) {
	bus := newTestBus(t, testConfig())
	rec := NewRecorder()
	_, err := bus.Subscribe(types.EventFilter{}, rec)
	require.NoError(t, err)

	bus.Report(types.Event{EventID: types.EventSubscriptionRcvd, Type: types.EventTypeDebug})
	require.NoError(t, bus.Close())

	assert.Empty(t, rec.Events())
	assert.Equal(t, uint64(1), bus.Stats().Filtered)

	cfg := testConfig()
	cfg.DebugLevel = true
	bus = newTestBus(t, cfg)
	rec = NewRecorder()
	_, err = bus.Subscribe(types.EventFilter{}, rec)
	require.NoError(t, err)

	bus.Report(types.Event{EventID: types.EventSubscriptionRcvd, Type: types.EventTypeDebug})
	require.NoError(t, bus.Close())
	assert.Len(t, rec.Events(), 1)
}

func TestBusReportNeverBlocks(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 2
	bus := newTestBus(t, cfg)

	h := &blockingHandler{release: make(chan struct{})}
	_, err := bus.Subscribe(types.EventFilter{}, h)
	require.NoError(t, err)
	defer h.unblock()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			bus.Report(types.Event{EventID: types.EventQueueFullError, Type: types.EventTypeError})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report blocked on a full queue")
	}

	assert.Greater(t, bus.Stats().Dropped, uint64(0))

	h.unblock()
	require.NoError(t, bus.Close())
}

func TestBusHandlerErrorsAreCounted(t *testing.T) {
	bus := newTestBus(t, testConfig())
	_, err := bus.Subscribe(types.EventFilter{}, types.EventFunc(func(ctx context.Context, e types.Event) error {
		return errors.New("boom")
	}))
	require.NoError(t, err)

	bus.Report(types.Event{EventID: types.EventInternalError, Type: types.EventTypeCritical})
	require.NoError(t, bus.Close())

	assert.Equal(t, uint64(1), bus.Stats().HandlerErrors)
}

func TestBusSubscribeAndClose(t *testing.T) {
	bus := newTestBus(t, testConfig())

	_, err := bus.Subscribe(types.EventFilter{}, nil)
	assert.Error(t, err)

	id, err := bus.Subscribe(types.EventFilter{}, NewRecorder())
	require.NoError(t, err)
	require.NoError(t, bus.Unsubscribe(id))
	assert.True(t, types.IsErrCode(bus.Unsubscribe(id), types.ErrCodeNotFound))

	require.NoError(t, bus.Close())
	assert.Error(t, bus.Close())

	_, err = bus.Subscribe(types.EventFilter{}, NewRecorder())
	assert.True(t, types.IsErrCode(err, types.ErrCodeUnavailable))

	bus.Report(types.Event{EventID: types.EventInit, Type: types.EventTypeInfo})
	assert.Equal(t, uint64(1), bus.Stats().Dropped)
}

func TestMatchesFilter(t *testing.T) {
	src := "softbus"
	task := types.TaskID(3)
	event := types.Event{EventID: types.EventPipeAdded, Type: types.EventTypeInfo, Source: src, Task: task}

	other := "other"
	otherTask := types.TaskID(4)

	assert.True(t, MatchesFilter(event, types.EventFilter{}))
	assert.True(t, MatchesFilter(event, types.EventFilter{Source: &src, Task: &task}))
	assert.False(t, MatchesFilter(event, types.EventFilter{Source: &other}))
	assert.False(t, MatchesFilter(event, types.EventFilter{Task: &otherTask}))
	assert.True(t, MatchesFilter(event, types.EventFilter{EventIDs: []types.EventID{types.EventInit, types.EventPipeAdded}}))
	assert.False(t, MatchesFilter(event, types.EventFilter{EventIDs: []types.EventID{types.EventInit}}))
}
