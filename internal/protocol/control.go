package protocol

import (
	"encoding/binary"

	"github.com/udisondev/rag2go/internal/constants"
)

// BuildHeartbeat returns a 0x1B payload carrying seq.
func BuildHeartbeat(seq uint16) []byte {
	return binary.LittleEndian.AppendUint16([]byte{constants.OpcodeHeartbeat}, seq)
}

// BuildHeartbeatAck returns the 17-byte 0x1D payload echoing seq.
func BuildHeartbeatAck(seq uint16) []byte {
	ack := make([]byte, constants.HeartbeatAckSize)
	ack[0] = constants.OpcodeHeartbeatAck
	binary.LittleEndian.PutUint16(ack[1:], seq)
	return ack
}

// HeartbeatSeq extracts the sequence of a 0x1B or 0x1D payload.
// A body shorter than the sequence field yields 0.
func HeartbeatSeq(payload []byte) uint16 {
	if len(payload) < 1+constants.HeartbeatSequenceSize {
		return 0
	}
	return binary.LittleEndian.Uint16(payload[1:])
}
