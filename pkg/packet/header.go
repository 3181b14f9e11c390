// Package packet reads and writes the fixed primary header carried by every
// bus message, plus the command secondary header and its checksum.
//
// Layout (big-endian):
//
//	0..1  stream ID  version(3) | type(1) | sec-hdr flag(1) | APID(11)
//	2..3  sequence   flags(2) | count(14)
//	4..5  length     total bytes - 7
//	6     function code            (command secondary header)
//	7     checksum                 (command secondary header)
//
// The message ID is the low 13 bits of the stream ID, so command IDs look like
// 0x18xx and telemetry IDs 0x08xx.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/billm/baaaht/softbus/pkg/types"
)

const (
	// PrimaryHeaderSize is the size of the primary header in bytes
	PrimaryHeaderSize = 6
	// CmdHeaderSize is the primary header plus the command secondary header
	CmdHeaderSize = 8
	// TlmHeaderSize is the primary header plus the telemetry time field
	TlmHeaderSize = 12

	// MaxPacketSize is the largest total length the length field can record
	MaxPacketSize = 0xFFFF + lengthBias

	// MaxSeqCount is the largest value the 14-bit sequence count holds
	MaxSeqCount = 0x3FFF

	// HighestMsgID is the largest ID the stream ID field can carry
	HighestMsgID types.MsgID = 0x1FFF

	msgIDMask     = 0x1FFF
	typeCmdBit    = 0x1000
	secHdrBit     = 0x0800
	seqFlagsUnseg = 0xC000
	lengthBias    = 7
)

// Message is a raw packet. The slice may be longer than the packet it holds
// (a pool block); Size reports the length recorded in the header.
type Message []byte

// New allocates a zeroed message of size bytes with its header initialised
func New(id types.MsgID, size int) (Message, error) {
	msg := make(Message, size)
	if err := InitHeader(msg, id, size, true); err != nil {
		return nil, err
	}
	return msg, nil
}

// InitHeader writes the message ID and length into msg. With zero set the
// whole buffer is cleared first, resetting the sequence count; otherwise the
// existing sequence count is kept.
func InitHeader(msg Message, id types.MsgID, length int, zero bool) error {
	if length < PrimaryHeaderSize+1 || length > len(msg) {
		return types.NewError(types.ErrCodeBadArgument,
			fmt.Sprintf("header length %d does not fit buffer of %d bytes", length, len(msg)))
	}
	if length > MaxPacketSize {
		return types.NewError(types.ErrCodeBadArgument,
			fmt.Sprintf("header length %d exceeds %d", length, MaxPacketSize))
	}
	if id > HighestMsgID {
		return types.NewError(types.ErrCodeBadArgument, "message id out of range: "+id.String())
	}

	seq := uint16(0)
	if zero {
		clear(msg)
	} else {
		seq = msg.SeqCount()
	}

	msg.SetMsgID(id)
	msg.SetSeqCount(seq)
	msg.SetSize(length)
	return nil
}

// MsgID returns the message ID carried in the stream ID field
func (m Message) MsgID() types.MsgID {
	return types.MsgID(binary.BigEndian.Uint16(m[0:2]) & msgIDMask)
}

// SetMsgID writes id into the stream ID field, clearing the version bits
func (m Message) SetMsgID(id types.MsgID) {
	binary.BigEndian.PutUint16(m[0:2], uint16(id)&msgIDMask)
}

// IsCommand reports whether the type bit marks this as a command packet
func (m Message) IsCommand() bool {
	return binary.BigEndian.Uint16(m[0:2])&typeCmdBit != 0
}

// HasSecondaryHeader reports whether the secondary header flag is set
func (m Message) HasSecondaryHeader() bool {
	return binary.BigEndian.Uint16(m[0:2])&secHdrBit != 0
}

// HasChecksum reports whether the message carries a command secondary header
func (m Message) HasChecksum() bool {
	return len(m) >= CmdHeaderSize && m.IsCommand() && m.HasSecondaryHeader() && m.Size() >= CmdHeaderSize
}

// SeqCount returns the 14-bit sequence count
func (m Message) SeqCount() uint16 {
	return binary.BigEndian.Uint16(m[2:4]) & MaxSeqCount
}

// SetSeqCount stores count, marking the packet unsegmented
func (m Message) SetSeqCount(count uint16) {
	binary.BigEndian.PutUint16(m[2:4], seqFlagsUnseg|(count&MaxSeqCount))
}

// Size returns the total packet length recorded in the header
func (m Message) Size() int {
	return int(binary.BigEndian.Uint16(m[4:6])) + lengthBias
}

// SetSize records the total packet length in the header
func (m Message) SetSize(size int) {
	binary.BigEndian.PutUint16(m[4:6], uint16(size-lengthBias))
}

// FunctionCode returns the command function code, or 0 for telemetry
func (m Message) FunctionCode() uint8 {
	if !m.HasChecksum() {
		return 0
	}
	return m[6] & 0x7F
}

// SetFunctionCode stores the command function code
func (m Message) SetFunctionCode(fc uint8) error {
	if !m.HasChecksum() {
		return ErrNoChecksum
	}
	m[6] = fc & 0x7F
	return nil
}

// HeaderSize returns the combined size of the primary and secondary headers
func (m Message) HeaderSize() int {
	switch {
	case !m.HasSecondaryHeader():
		return PrimaryHeaderSize
	case m.IsCommand():
		return CmdHeaderSize
	default:
		return TlmHeaderSize
	}
}

// Payload returns the bytes after the headers, up to the recorded size
func (m Message) Payload() []byte {
	hdr, size := m.HeaderSize(), m.Size()
	if size <= hdr || size > len(m) {
		return nil
	}
	return m[hdr:size]
}

// Validate checks that m holds a primary header and the length it declares
func (m Message) Validate() error {
	if len(m) < PrimaryHeaderSize {
		return types.NewError(types.ErrCodeBadArgument,
			fmt.Sprintf("message of %d bytes is shorter than the primary header", len(m)))
	}
	if size := m.Size(); size > len(m) {
		return types.NewError(types.ErrCodeBadArgument,
			fmt.Sprintf("header declares %d bytes but buffer holds %d", size, len(m)))
	}
	return nil
}

// Bytes returns the packet trimmed to its recorded size
func (m Message) Bytes() []byte {
	if size := m.Size(); size <= len(m) {
		return m[:size]
	}
	return m
}

// NextSeqCount returns the sequence count following n, wrapping at 14 bits
func NextSeqCount(n uint16) uint16 {
	return (n + 1) & MaxSeqCount
}
