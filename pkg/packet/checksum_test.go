package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCommand(t *testing.T) Message {
	t.Helper()
	msg, err := New(0x1882, 16)
	require.NoError(t, err)
	require.NoError(t, msg.SetFunctionCode(2))
	msg.SetSeqCount(77)
	copy(msg.Payload(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	return msg
}

func TestLoadThenValidate(t *testing.T) {
	msg := newCommand(t)
	require.NoError(t, LoadChecksum(msg))
	assert.True(t, ValidateChecksum(msg))
	assert.Equal(t, uint8(0), ComputeChecksum(msg))
}

func TestValidateFailsAfterAnySingleByteFlip(t *testing.T) {
	msg := newCommand(t)
	require.NoError(t, LoadChecksum(msg))

	for i := range msg {
		flipped := make(Message, len(msg))
		copy(flipped, msg)
		flipped[i] ^= 0xFF
		assert.False(t, ValidateChecksum(flipped), "byte %d flipped", i)
	}
}

func TestChecksumIgnoresBytesPastSize(t *testing.T) {
	msg := make(Message, 32)
	require.NoError(t, InitHeader(msg, 0x1882, 16, true))
	require.NoError(t, LoadChecksum(msg))

	msg[20] = 0x99
	assert.True(t, ValidateChecksum(msg))
}

func TestChecksumRequiresCommandHeader(t *testing.T) {
	tlm, err := New(0x0801, 16)
	require.NoError(t, err)

	assert.ErrorIs(t, LoadChecksum(tlm), ErrNoChecksum)
	assert.False(t, ValidateChecksum(tlm))
}

func TestComputeChecksumSeed(t *testing.T) {
	// Header bytes 0x18 0x82 0xC0 0x00 0x00 0x01 plus two zero bytes
	msg, err := New(0x1882, 8)
	require.NoError(t, err)
	want := uint8(0xFF ^ 0x18 ^ 0x82 ^ 0xC0 ^ 0x01)
	assert.Equal(t, want, ComputeChecksum(msg))
}
