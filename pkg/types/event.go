package types

import "context"

// EventType is the severity class of a bus event
type EventType string

const (
	EventTypeDebug    EventType = "debug"
	EventTypeInfo     EventType = "info"
	EventTypeError    EventType = "error"
	EventTypeCritical EventType = "critical"
)

// EventID numbers a specific bus event message
type EventID uint16

// Software bus event IDs
const (
	EventInit                EventID = 1
	EventCreatePipeBadArg    EventID = 2
	EventCreatePipeMaxPipes  EventID = 3
	EventCreatePipeError     EventID = 4
	EventPipeAdded           EventID = 5
	EventSubscribeArgError   EventID = 6
	EventDuplicateSubscribe  EventID = 7
	EventMaxMsgsMet          EventID = 8
	EventMaxDestsMet         EventID = 9
	EventSubscriptionRcvd    EventID = 10
	EventUnsubscribeArgError EventID = 11
	EventUnsubscribeNoSubs   EventID = 12
	EventSubscriptionRemoved EventID = 13
	EventSendBadArg          EventID = 14
	EventSendInvalidMsgID    EventID = 15
	EventMsgTooBig           EventID = 16
	EventGetBufError         EventID = 17
	EventMsgIDLimitError     EventID = 18
	EventQueueFullError      EventID = 19
	EventQueueWriteError     EventID = 20
	EventReceiveBadArg       EventID = 21
	EventBadPipeID           EventID = 22
	EventDeletePipeError     EventID = 23
	EventPipeDeleted         EventID = 24
	EventReleaseBufferError  EventID = 25
	EventEnableRoute         EventID = 26
	EventDisableRoute        EventID = 27
	EventRouteCmdError       EventID = 28
	EventSubRptEnabled       EventID = 29
	EventSubRptDisabled      EventID = 30
	EventFullSubPkt          EventID = 31
	EventPartialSubPkt       EventID = 32
	EventSetPipeOpts         EventID = 33
	EventGetPipeName         EventID = 34
	EventGetPipeIDByName     EventID = 35
	EventCleanupTask         EventID = 36
	EventInternalError       EventID = 37
	EventHandleMismatch      EventID = 38
)

// Event is one record delivered to the event sink
type Event struct {
	ID        ID                `json:"id" yaml:"id" msgpack:"id"`
	EventID   EventID           `json:"event_id" yaml:"event_id" msgpack:"event_id"`
	Type      EventType         `json:"type" yaml:"type" msgpack:"type"`
	Source    string            `json:"source" yaml:"source" msgpack:"source"`
	Task      TaskID            `json:"task" yaml:"task" msgpack:"task"`
	Message   string            `json:"message" yaml:"message" msgpack:"message"`
	Timestamp Timestamp         `json:"timestamp" yaml:"timestamp" msgpack:"-"`
	Labels    map[string]string `json:"labels,omitempty" yaml:"labels,omitempty" msgpack:"labels,omitempty"`
}

// EventHandler handles events
type EventHandler interface {
	// Handle processes an event
	Handle(ctx context.Context, event Event) error

	// CanHandle returns true if the handler can process the event type
	CanHandle(eventType EventType) bool
}

// EventFunc is a function adapter for EventHandler
type EventFunc func(ctx context.Context, event Event) error

// Handle implements EventHandler
func (f EventFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// CanHandle implements EventHandler (always returns true for EventFunc)
func (f EventFunc) CanHandle(eventType EventType) bool {
	return true
}

// EventFilter selects events for a subscription
type EventFilter struct {
	Type     *EventType `json:"type,omitempty"`
	EventIDs []EventID  `json:"event_ids,omitempty"`
	Source   *string    `json:"source,omitempty"`
	Task     *TaskID    `json:"task,omitempty"`
}

// EventSubscription represents a subscription to events
type EventSubscription struct {
	ID        ID           `json:"id"`
	Filter    EventFilter  `json:"filter"`
	Handler   EventHandler `json:"-"`
	Active    bool         `json:"active"`
	CreatedAt Timestamp    `json:"created_at"`
}
