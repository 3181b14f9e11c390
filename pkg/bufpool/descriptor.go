package bufpool

import (
	"github.com/billm/baaaht/softbus/pkg/packet"
	"github.com/billm/baaaht/softbus/pkg/types"
)

// Descriptor is one in-flight message shared by every pipe it was delivered
// to. Its reference count is changed only through the owning Pool.
type Descriptor struct {
	refs  int
	size  int
	block []byte
	msgID types.MsgID
	owner types.TaskID
	zcopy bool
	freed bool
}

// Message returns the buffer as a packet. It stays valid only while the
// caller holds a reference.
func (d *Descriptor) Message() packet.Message {
	return packet.Message(d.block[:d.size])
}

// Size returns the payload length requested at Acquire
func (d *Descriptor) Size() int { return d.size }

// MsgID returns the message ID the descriptor was last sent as
func (d *Descriptor) MsgID() types.MsgID { return d.msgID }

// SetMsgID records the message ID the descriptor is being sent as
func (d *Descriptor) SetMsgID(id types.MsgID) { d.msgID = id }

// Owner returns the task holding a zero-copy buffer, or InvalidTaskID
func (d *Descriptor) Owner() types.TaskID { return d.owner }
