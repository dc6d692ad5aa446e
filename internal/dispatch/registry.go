// Package dispatch routes decrypted application messages to handlers by opcode.
package dispatch

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
)

// Message is one decrypted application message.
type Message struct {
	Opcode uint16
	// Payload excludes the opcode. Handlers may retain it.
	Payload []byte
	HostID  uint32
}

// Peer is the send-back capability bound to the connection a message came from.
type Peer interface {
	HostID() uint32
	RemoteAddr() net.Addr
	// Send encrypts and queues an application message. Never blocks on the socket.
	Send(opcode uint16, payload []byte) error
	// Close starts a graceful close of the connection.
	Close()
}

// Handler processes one application opcode.
// Returning an error does not close the connection; call peer.Close for that.
type Handler interface {
	Handle(ctx context.Context, msg Message, peer Peer) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message, peer Peer) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message, peer Peer) error {
	return f(ctx, msg, peer)
}

type entry struct {
	name    string
	handler Handler
}

// Registry maps opcodes to handlers. Built at startup, read-only once frozen.
type Registry struct {
	mu       sync.RWMutex
	handlers map[uint16]entry
	frozen   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[uint16]entry)}
}

// Register binds a handler to opcode. Duplicate opcodes and registration after Freeze are errors.
func (r *Registry) Register(opcode uint16, name string, h Handler) error {
	if h == nil {
		return fmt.Errorf("register 0x%04x: nil handler", opcode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("register 0x%04x: registry is frozen", opcode)
	}
	if prev, ok := r.handlers[opcode]; ok {
		return fmt.Errorf("register 0x%04x (%s): already registered by %s", opcode, name, prev.name)
	}
	r.handlers[opcode] = entry{name: name, handler: h}
	return nil
}

// MustRegister is Register that panics; for static tables built in init code.
func (r *Registry) MustRegister(opcode uint16, name string, h Handler) {
	if err := r.Register(opcode, name, h); err != nil {
		panic(err)
	}
}

// Freeze forbids further registration.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the handler for opcode by exact match.
func (r *Registry) Lookup(opcode uint16) (Handler, bool) {
	e, ok := r.lookup(opcode)
	return e.handler, ok
}

func (r *Registry) lookup(opcode uint16) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.handlers[opcode]
	return e, ok
}

// Name returns the registered handler name, or "" when missing.
func (r *Registry) Name(opcode uint16) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[opcode].name
}

// Opcodes returns the registered opcodes in ascending order.
func (r *Registry) Opcodes() []uint16 {
	r.mu.RLock()
	ops := make([]uint16, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	r.mu.RUnlock()

	slices.Sort(ops)
	return ops
}
