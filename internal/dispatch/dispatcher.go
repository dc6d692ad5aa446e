package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/udisondev/rag2go/internal/metrics"
	"github.com/udisondev/rag2go/internal/protocol"
)

// Recorder receives one event per dispatched message. *metrics.Metrics implements it.
type Recorder interface {
	DispatchResult(opcode uint16, result string)
}

// Stats is a snapshot of dispatch counters.
type Stats struct {
	Processed uint64
	Succeeded uint64
	Failed    uint64
	Unhandled uint64
}

// Dispatcher invokes registered handlers. Safe for concurrent use by all connections.
type Dispatcher struct {
	registry *Registry
	recorder Recorder

	processed atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	unhandled atomic.Uint64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRecorder reports dispatch results to r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// New creates a dispatcher over registry and freezes it.
func New(registry *Registry, opts ...Option) *Dispatcher {
	registry.Freeze()
	d := &Dispatcher{registry: registry}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the underlying registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch invokes the handler registered for msg.Opcode exactly once.
//
// An unregistered opcode is logged and dropped: the result is nil.
// A handler failure (error or panic) is returned wrapped in protocol.ErrHandler.
// A cancelled ctx means the connection is closing; the handler is not invoked.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message, peer Peer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.processed.Add(1)

	e, ok := d.registry.lookup(msg.Opcode)
	if !ok {
		d.unhandled.Add(1)
		d.record(msg.Opcode, metrics.ResultUnhandled)
		slog.Debug("no handler registered",
			"opcode", fmt.Sprintf("0x%04x", msg.Opcode),
			"host_id", msg.HostID,
			"size", len(msg.Payload))
		return nil
	}

	if err := invoke(ctx, e.handler, msg, peer); err != nil {
		d.failed.Add(1)
		d.record(msg.Opcode, metrics.ResultFailed)
		slog.Error("handler failed",
			"opcode", fmt.Sprintf("0x%04x", msg.Opcode),
			"handler", e.name,
			"host_id", msg.HostID,
			"err", err)
		return fmt.Errorf("%w: %s (0x%04x): %w", protocol.ErrHandler, e.name, msg.Opcode, err)
	}

	d.succeeded.Add(1)
	d.record(msg.Opcode, metrics.ResultOK)
	return nil
}

func invoke(ctx context.Context, h Handler, msg Message, peer Peer) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return h.Handle(ctx, msg, peer)
}

func (d *Dispatcher) record(opcode uint16, result string) {
	if d.recorder != nil {
		d.recorder.DispatchResult(opcode, result)
	}
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Processed: d.processed.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		Unhandled: d.unhandled.Load(),
	}
}
