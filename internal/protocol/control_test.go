package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/udisondev/rag2go/internal/constants"
)

func TestBuildHeartbeatAck(t *testing.T) {
	ack := BuildHeartbeatAck(5)

	assert.Len(t, ack, constants.HeartbeatAckSize)
	assert.Equal(t, constants.OpcodeHeartbeatAck, ack[0])
	assert.Equal(t, []byte{0x05, 0x00}, ack[1:3])
	assert.Equal(t, make([]byte, 14), ack[3:])
}

func TestHeartbeatSeq(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    uint16
	}{
		{"heartbeat", BuildHeartbeat(0x1234), 0x1234},
		{"ack", BuildHeartbeatAck(7), 7},
		{"без sequence", []byte{constants.OpcodeHeartbeat}, 0},
		{"обрезанный sequence", []byte{constants.OpcodeHeartbeat, 0x01}, 0},
		{"пусто", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HeartbeatSeq(tt.payload))
		})
	}
}
