package dispatch

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/rag2go/internal/metrics"
	"github.com/udisondev/rag2go/internal/protocol"
)

type sentMessage struct {
	opcode  uint16
	payload []byte
}

type fakePeer struct {
	mu     sync.Mutex
	sent   []sentMessage
	closed bool
}

func (p *fakePeer) HostID() uint32       { return 7 }
func (p *fakePeer) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5000} }

func (p *fakePeer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePeer) Send(opcode uint16, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentMessage{opcode, payload})
	return nil
}

type fakeRecorder struct {
	results map[string]int
}

func (r *fakeRecorder) DispatchResult(_ uint16, result string) {
	r.results[result]++
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	noop := HandlerFunc(func(context.Context, Message, Peer) error { return nil })

	require.NoError(t, reg.Register(0x2EE2, "ReqLogin", noop))
	require.NoError(t, reg.Register(0x0000, "SessionHello", noop))

	err := reg.Register(0x2EE2, "Другой", noop)
	require.Error(t, err, "duplicate opcode")

	require.Error(t, reg.Register(0x1000, "nil", nil))

	_, ok := reg.Lookup(0x2EE2)
	assert.True(t, ok)
	_, ok = reg.Lookup(0x2EE3)
	assert.False(t, ok)

	assert.Equal(t, "ReqLogin", reg.Name(0x2EE2))
	assert.Equal(t, "", reg.Name(0x9999))
	assert.Equal(t, []uint16{0x0000, 0x2EE2}, reg.Opcodes())
}

func TestRegistry_Freeze(t *testing.T) {
	reg := NewRegistry()
	noop := HandlerFunc(func(context.Context, Message, Peer) error { return nil })

	_ = New(reg)
	assert.True(t, reg.Frozen())
	require.Error(t, reg.Register(0x0001, "late", noop))
	assert.Panics(t, func() { reg.MustRegister(0x0002, "late", noop) })
}

func TestDispatcher_InvokesOnceWithExactPayload(t *testing.T) {
	reg := NewRegistry()
	var calls int
	var got []byte
	reg.MustRegister(0x2EE2, "ReqLogin", HandlerFunc(func(_ context.Context, msg Message, peer Peer) error {
		calls++
		got = msg.Payload
		return peer.Send(0x2EE3, []byte{0x01})
	}))

	rec := &fakeRecorder{results: map[string]int{}}
	d := New(reg, WithRecorder(rec))
	peer := &fakePeer{}

	payload := make([]byte, 209)
	for i := range payload {
		payload[i] = byte(i)
	}

	err := d.Dispatch(context.Background(), Message{Opcode: 0x2EE2, Payload: payload, HostID: 7}, peer)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, payload, got)
	require.Len(t, peer.sent, 1)
	assert.Equal(t, uint16(0x2EE3), peer.sent[0].opcode)

	assert.Equal(t, Stats{Processed: 1, Succeeded: 1}, d.Stats())
	assert.Equal(t, 1, rec.results[metrics.ResultOK])
}

func TestDispatcher_UnknownOpcode(t *testing.T) {
	rec := &fakeRecorder{results: map[string]int{}}
	d := New(NewRegistry(), WithRecorder(rec))
	peer := &fakePeer{}

	err := d.Dispatch(context.Background(), Message{Opcode: 0x1234, Payload: []byte{1}}, peer)
	require.NoError(t, err)
	assert.False(t, peer.closed)
	assert.Equal(t, Stats{Processed: 1, Unhandled: 1}, d.Stats())
	assert.Equal(t, 1, rec.results[metrics.ResultUnhandled])
}

func TestDispatcher_HandlerError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	reg.MustRegister(0x0001, "Failing", HandlerFunc(func(context.Context, Message, Peer) error {
		return boom
	}))
	d := New(reg)
	peer := &fakePeer{}

	err := d.Dispatch(context.Background(), Message{Opcode: 0x0001}, peer)
	require.ErrorIs(t, err, protocol.ErrHandler)
	require.ErrorIs(t, err, boom)
	assert.False(t, protocol.IsFatal(err))
	assert.False(t, peer.closed)
	assert.Equal(t, Stats{Processed: 1, Failed: 1}, d.Stats())
}

func TestDispatcher_HandlerPanic(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(0x0001, "Panicking", HandlerFunc(func(context.Context, Message, Peer) error {
		panic("nil map")
	}))
	d := New(reg)

	err := d.Dispatch(context.Background(), Message{Opcode: 0x0001}, &fakePeer{})
	require.ErrorIs(t, err, protocol.ErrHandler)
	assert.Contains(t, err.Error(), "nil map")
}

func TestDispatcher_CancelledContext(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.MustRegister(0x0001, "Never", HandlerFunc(func(context.Context, Message, Peer) error {
		called = true
		return nil
	}))
	d := New(reg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Dispatch(ctx, Message{Opcode: 0x0001}, &fakePeer{})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Zero(t, d.Stats().Processed)
}

func TestDispatcher_ConcurrentUse(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(0x0001, "Echo", HandlerFunc(func(_ context.Context, msg Message, peer Peer) error {
		return peer.Send(msg.Opcode, msg.Payload)
	}))
	d := New(reg)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			peer := &fakePeer{}
			for range 100 {
				_ = d.Dispatch(context.Background(), Message{Opcode: 0x0001}, peer)
				_ = d.Dispatch(context.Background(), Message{Opcode: 0x0002}, peer)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, Stats{Processed: 1600, Succeeded: 800, Unhandled: 800}, d.Stats())
}
