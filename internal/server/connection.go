package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/rag2go/internal/channel"
	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/handshake"
	"github.com/udisondev/rag2go/internal/protocol"
)

var (
	// ErrNotReady is returned by Send before the handshake completes.
	ErrNotReady = errors.New("connection not ready")
	// ErrClosed is returned by Send on a closing connection.
	ErrClosed = errors.New("connection closed")
)

// Connection is one client connection. It owns its socket, handshake state and
// session key; frames are processed strictly in arrival order by the serving goroutine.
type Connection struct {
	srv      *Server
	conn     net.Conn
	hostID   uint32
	ip       string
	openedAt time.Time

	state  atomic.Int32
	reason atomic.Int32

	negotiator *handshake.Negotiator
	channel    atomic.Pointer[channel.Channel]
	frames     *protocol.FrameBuffer

	queue         *sendQueue
	overWatermark atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeCh   chan struct{}
	closeOnce sync.Once
	pumpDone  chan struct{}

	// timerMu защищает таймеры: их останавливает closeWith из любой горутины
	timerMu        sync.Mutex
	handshakeTimer *time.Timer
	heartbeatTimer *time.Timer
}

func newConnection(ctx context.Context, srv *Server, conn net.Conn, hostID uint32) *Connection {
	ip := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}

	cfg := srv.cfg
	c := &Connection{
		srv:      srv,
		conn:     conn,
		hostID:   hostID,
		ip:       ip,
		openedAt: time.Now(),
		negotiator: handshake.New(srv.keys.Pick(), handshake.Options{
			Settings:       srv.settings,
			SessionKeySize: cfg.SessionKeySize,
			MinVersion:     cfg.MinClientVersion,
			MaxVersion:     cfg.MaxClientVersion,
			HostID:         hostID,
			ClientIP:       ip,
		}),
		frames:   protocol.NewFrameBuffer(cfg.MaxFrameSize),
		queue:    newSendQueue(),
		closeCh:  make(chan struct{}),
		pumpDone: make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.state.Store(int32(StateConnecting))
	return c
}

// HostID returns the id announced to the client in 0x0A.
func (c *Connection) HostID() uint32 {
	return c.hostID
}

// RemoteAddr returns the client address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// State returns the current lifecycle state.
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

// Reason returns the close reason; ReasonUnknown while open.
func (c *Connection) Reason() CloseReason {
	return CloseReason(c.reason.Load())
}

func (c *Connection) info() ConnInfo {
	return ConnInfo{HostID: c.hostID, RemoteAddr: c.conn.RemoteAddr(), OpenedAt: c.openedAt}
}

// Send encrypts an application message and queues it. Never blocks on the socket.
func (c *Connection) Send(opcode uint16, payload []byte) error {
	switch c.State() {
	case StateReady:
	case StateClosing, StateClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}

	ch := c.channel.Load()
	if ch == nil {
		return ErrNotReady
	}

	plain := make([]byte, constants.AppOpcodeSize, constants.AppOpcodeSize+len(payload))
	binary.LittleEndian.PutUint16(plain, opcode)
	plain = append(plain, payload...)

	env, err := ch.Seal(plain)
	if err != nil {
		return fmt.Errorf("sealing 0x%04x: %w", opcode, err)
	}
	return c.enqueue(protocol.Encode(env))
}

// Close starts a graceful close: queued output is flushed, then the socket is closed.
func (c *Connection) Close() {
	c.closeWith(ReasonServerClose, nil)
}

// enqueue hands wire-ready bytes to the write pump.
func (c *Connection) enqueue(wire []byte) error {
	select {
	case <-c.closeCh:
		return ErrClosed
	default:
	}

	n := c.queue.push(wire)
	cfg := c.srv.cfg

	if cfg.SendQueueLimit > 0 && n > cfg.SendQueueLimit {
		slog.Warn("send queue limit exceeded, disconnecting slow client",
			"remote", c.ip, "host_id", c.hostID, "queued", n)
		c.closeWith(ReasonSlowConsumer, nil)
		return ErrClosed
	}

	if cfg.SendQueueWatermark > 0 && n > cfg.SendQueueWatermark {
		c.srv.metrics.QueueOverflow()
		if !c.overWatermark.Swap(true) {
			slog.Warn("send queue above watermark", "remote", c.ip, "host_id", c.hostID, "queued", n)
		}
	}
	return nil
}

// closeWith transitions to Closing exactly once; the first reason wins.
func (c *Connection) closeWith(reason CloseReason, err error) {
	c.closeOnce.Do(func() {
		c.reason.Store(int32(reason))
		c.state.Store(int32(StateClosing))
		c.stopTimers()
		c.cancel()
		close(c.closeCh)

		switch reason {
		case ReasonProtocolViolation, ReasonCryptoError, ReasonSlowConsumer:
			slog.Warn("closing connection", "remote", c.ip, "host_id", c.hostID, "reason", reason, "err", err)
		default:
			slog.Debug("closing connection", "remote", c.ip, "host_id", c.hostID, "reason", reason, "err", err)
		}
	})
}

func (c *Connection) stopTimers() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
}

func (c *Connection) startHandshakeTimer() {
	d := c.srv.cfg.HandshakeTimeout
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	c.handshakeTimer = time.AfterFunc(d, func() {
		c.closeWith(ReasonTimeout, fmt.Errorf("%w: handshake not completed in %v", protocol.ErrTimeout, d))
	})
}

// startHeartbeat replaces the handshake deadline with the heartbeat window.
func (c *Connection) startHeartbeat() {
	d := c.srv.cfg.HeartbeatTimeout
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.State() != StateReady {
		return
	}
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
		c.handshakeTimer = nil
	}
	c.heartbeatTimer = time.AfterFunc(d, func() {
		c.closeWith(ReasonTimeout, fmt.Errorf("%w: no heartbeat for %v", protocol.ErrTimeout, d))
	})
}

func (c *Connection) resetHeartbeat() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Reset(c.srv.cfg.HeartbeatTimeout)
	}
}

// serve runs the connection to completion. Called from the accept loop's goroutine.
func (c *Connection) serve() {
	go c.writePump()

	hello, err := c.negotiator.Hello()
	if err != nil {
		c.closeWith(ReasonCryptoError, err)
	} else if c.state.CompareAndSwap(int32(StateConnecting), int32(StateKeyExchange)) {
		c.startHandshakeTimer()
		if err := c.enqueue(hello); err == nil {
			slog.Debug("handshake sent", "remote", c.ip, "host_id", c.hostID)
		}
	}

	c.readLoop()

	<-c.pumpDone
	c.finish()
}

func (c *Connection) readLoop() {
	// FrameBuffer копирует байты, поэтому buf переиспользуется между Read
	buf := make([]byte, constants.DefaultReadBufSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			c.frames.Feed(buf[:n])
			if err := c.drainFrames(); err != nil {
				c.closeWith(reasonFor(err), err)
				return
			}
		}
		if err != nil {
			c.closeWith(ReasonIOError, fmt.Errorf("%w: read: %w", protocol.ErrIO, err))
			return
		}
		if c.State() >= StateClosing {
			return
		}
	}
}

// drainFrames processes every complete buffered frame.
// A malformed frame stops processing; nothing after it is dispatched.
func (c *Connection) drainFrames() error {
	for {
		if c.State() >= StateClosing {
			return nil
		}

		frame, ok, err := c.frames.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		c.srv.metrics.FrameIn()

		if err := c.handleFrame(frame); err != nil && protocol.IsFatal(err) {
			return err
		}
	}
}

// writePump is the only goroutine writing to the socket.
// It drains the queue in batches and closes the socket on exit.
func (c *Connection) writePump() {
	defer close(c.pumpDone)
	defer c.conn.Close()

	batch := make([][]byte, 0, 64)
	for {
		select {
		case <-c.queue.ready:
			batch = c.queue.drain(batch[:0])
			if err := c.write(batch); err != nil {
				c.closeWith(ReasonIOError, fmt.Errorf("%w: write: %w", protocol.ErrIO, err))
				return
			}
			if c.queue.len() == 0 {
				c.overWatermark.Store(false)
			}

		case <-c.closeCh:
			if c.Reason().flushes() {
				batch = c.queue.drain(batch[:0])
				_ = c.write(batch)
			}
			return
		}
	}
}

func (c *Connection) write(batch [][]byte) error {
	if len(batch) == 0 {
		return nil
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.srv.cfg.WriteTimeout)); err != nil {
		return err
	}

	var err error
	if len(batch) == 1 {
		_, err = c.conn.Write(batch[0])
	} else {
		// WriteTo сдвигает элементы bufs, batch ниже всё равно очищается
		bufs := net.Buffers(batch)
		_, err = bufs.WriteTo(c.conn)
	}
	for range batch {
		c.srv.metrics.FrameOut()
	}
	clear(batch)
	return err
}

// finish releases everything exactly once after both goroutines are done.
func (c *Connection) finish() {
	c.stopTimers()
	if ch := c.channel.Load(); ch != nil {
		ch.Close()
	}
	c.negotiator.Zeroize()

	c.srv.remove(c)
	c.state.Store(int32(StateClosed))

	reason := c.Reason()
	c.srv.metrics.ConnectionClosed(reason.String())
	slog.Info("connection closed", "remote", c.ip, "host_id", c.hostID, "reason", reason)
	c.srv.observer.OnClose(c.info(), reason)
}
