package rmi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/rag2go/internal/dispatch"
)

type sent struct {
	opcode  uint16
	payload []byte
}

type recordingPeer struct {
	sent []sent
}

func (p *recordingPeer) HostID() uint32       { return 1 }
func (p *recordingPeer) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (p *recordingPeer) Close()               {}

func (p *recordingPeer) Send(opcode uint16, payload []byte) error {
	p.sent = append(p.sent, sent{opcode, payload})
	return nil
}

// тело hello из захвата официального клиента
var capturedHello = []byte{
	0x01, 0xE1, 0x2E, 0x10, 0x00, 0x21,
	0xF1, 0x16, 0xA4, 0xCB,
	0x00, 0x01,
	0x00, 0x00, 0x00, 0x01,
	0x07, 0x02, 0x25, 0x00,
	0x80, 0x3F, 0x00, 0x00,
}

func TestBuildHelloResponse(t *testing.T) {
	statusOverride := append([]byte{}, capturedHello...)
	copy(statusOverride[12:16], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	tests := []struct {
		name string
		req  []byte
		want []byte
	}{
		{
			name: "захват",
			req:  capturedHello,
			want: []byte{
				0x01, 0xE1, 0x2E, 0x10, 0x00, 0x21,
				0x44, 0x33, 0x22, 0x11,
				0x00, 0x01,
				0x00, 0x00, 0x00, 0x01,
				0x07, 0x02, 0x25, 0x00,
				0x80, 0x3F, 0x00, 0x00,
			},
		},
		{
			name: "status зеркалится как есть",
			req:  statusOverride,
			want: []byte{
				0x01, 0xE1, 0x2E, 0x10, 0x00, 0x21,
				0x44, 0x33, 0x22, 0x11,
				0x00, 0x01,
				0xDE, 0xAD, 0xBE, 0xEF,
				0x07, 0x02, 0x25, 0x00,
				0x80, 0x3F, 0x00, 0x00,
			},
		},
		{
			name: "пустой запрос",
			req:  nil,
			want: []byte{
				0x01, 0xE1, 0x2E, 0x10, 0x00, 0x21,
				0x44, 0x33, 0x22, 0x11,
				0x00, 0x01,
				0x00, 0x00, 0x00, 0x01,
				0x07, 0x02, 0x25, 0x00,
				0x80, 0x3F, 0x00, 0x00,
			},
		},
		{
			name: "обрезанный запрос",
			req:  []byte{0xAA, 0xBB, 0xCC},
			want: []byte{
				0xAA, 0xBB, 0x2E, 0x10, 0x00, 0x21,
				0x44, 0x33, 0x22, 0x11,
				0x00, 0x01,
				0x00, 0x00, 0x00, 0x01,
				0x07, 0x02, 0x25, 0x00,
				0x80, 0x3F, 0x00, 0x00,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildHelloResponse(tt.req, 0x11223344)
			assert.Equal(t, tt.want, got)
			assert.Len(t, got, helloBodySize)
		})
	}
}

func TestHelloHandler(t *testing.T) {
	h := HelloHandler{Now: func() time.Time { return time.Unix(0x11223344, 0) }}
	peer := &recordingPeer{}

	err := h.Handle(context.Background(), dispatch.Message{Opcode: OpSessionHello, Payload: capturedHello, HostID: 1}, peer)
	require.NoError(t, err)

	require.Len(t, peer.sent, 1)
	assert.Equal(t, OpSessionHello, peer.sent[0].opcode)
	assert.Equal(t, BuildHelloResponse(capturedHello, 0x11223344), peer.sent[0].payload)
}

func TestRegisterBuiltins(t *testing.T) {
	t.Run("регистрирует hello", func(t *testing.T) {
		reg := dispatch.NewRegistry()
		require.NoError(t, RegisterBuiltins(reg))

		_, ok := reg.Lookup(OpSessionHello)
		assert.True(t, ok)
		assert.Equal(t, "SessionHello", reg.Name(OpSessionHello))
	})

	t.Run("не перезаписывает свой handler", func(t *testing.T) {
		reg := dispatch.NewRegistry()
		reg.MustRegister(OpSessionHello, "CustomHello", dispatch.HandlerFunc(
			func(context.Context, dispatch.Message, dispatch.Peer) error { return nil }))

		require.NoError(t, RegisterBuiltins(reg))
		assert.Equal(t, "CustomHello", reg.Name(OpSessionHello))
	})

	t.Run("замороженный registry", func(t *testing.T) {
		reg := dispatch.NewRegistry()
		reg.Freeze()
		require.Error(t, RegisterBuiltins(reg))
	})
}

func TestName(t *testing.T) {
	assert.Equal(t, "ReqLogin", Name(OpReqLogin))
	assert.Equal(t, "0x7777", Name(0x7777))
	assert.True(t, Known(OpAckLogin))
	assert.False(t, Known(0x7777))
}
