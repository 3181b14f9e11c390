package packet

import "github.com/billm/baaaht/softbus/pkg/types"

const checksumSeed = 0xFF

// ErrNoChecksum is returned for packets without a command secondary header
var ErrNoChecksum = types.NewError(types.ErrCodeWrongMsgType, "message has no command secondary header")

// ComputeChecksum XORs every byte of the packet into a 0xFF seed
func ComputeChecksum(m Message) uint8 {
	sum := uint8(checksumSeed)
	for _, b := range m.Bytes() {
		sum ^= b
	}
	return sum
}

// LoadChecksum clears the checksum field, recomputes it and stores the result
func LoadChecksum(m Message) error {
	if !m.HasChecksum() {
		return ErrNoChecksum
	}
	m[7] = 0
	m[7] = ComputeChecksum(m)
	return nil
}

// ValidateChecksum reports whether the stored checksum matches the packet.
// A correctly checksummed packet XORs to zero.
func ValidateChecksum(m Message) bool {
	if !m.HasChecksum() {
		return false
	}
	return ComputeChecksum(m) == 0
}
