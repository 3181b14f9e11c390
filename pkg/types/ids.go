package types

import "fmt"

// MsgID names a message class on the bus
type MsgID uint32

// String formats the ID the way ground tooling shows it
func (m MsgID) String() string {
	return fmt.Sprintf("0x%04X", uint32(m))
}

// PipeID is a small integer handle into the pipe table
type PipeID uint32

// InvalidPipeID never names an allocated pipe
const InvalidPipeID PipeID = ^PipeID(0)

// String returns the string representation of the pipe ID
func (p PipeID) String() string {
	if p == InvalidPipeID {
		return "invalid"
	}
	return fmt.Sprintf("%d", uint32(p))
}

// TaskID identifies a registered task (the owner of pipes and zero-copy buffers)
type TaskID uint32

// InvalidTaskID never names a registered task
const InvalidTaskID TaskID = 0

// String returns the string representation of the task ID
func (t TaskID) String() string {
	return fmt.Sprintf("task-%d", uint32(t))
}

// Scope controls whether a subscription is visible outside this process
type Scope uint8

const (
	// ScopeGlobal subscriptions are included in subscription reports
	ScopeGlobal Scope = 0
	// ScopeLocal subscriptions are never reported off-box
	ScopeLocal Scope = 1
)

// String returns the scope name
func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeLocal:
		return "local"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	return s == ScopeGlobal || s == ScopeLocal
}

// QoS is carried in subscription reports; the bus does not act on it
type QoS struct {
	Priority    uint8 `json:"priority" yaml:"priority" msgpack:"priority"`
	Reliability uint8 `json:"reliability" yaml:"reliability" msgpack:"reliability"`
}

// DefaultQoS is used by Subscribe when the caller does not supply one
var DefaultQoS = QoS{}
