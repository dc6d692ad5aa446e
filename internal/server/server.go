// Package server runs the ProudNet transport: it accepts TCP clients, drives the
// handshake, unwraps encrypted envelopes and hands application messages to a dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/netutil"

	"github.com/udisondev/rag2go/internal/config"
	"github.com/udisondev/rag2go/internal/crypto"
	"github.com/udisondev/rag2go/internal/dispatch"
	"github.com/udisondev/rag2go/internal/handshake"
	"github.com/udisondev/rag2go/internal/metrics"
)

// ErrUnknownHost is returned when no live connection has the given host id.
var ErrUnknownHost = errors.New("unknown host id")

// Option is a functional option for Server configuration.
type Option func(*Server)

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Server) {
		s.observer = o
	}
}

// WithMetrics sets the metrics sink. Without it the server keeps a private one.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// Server accepts client connections and owns the table of live ones.
type Server struct {
	cfg        config.Server
	keys       *crypto.KeyRing
	dispatcher *dispatch.Dispatcher
	observer   Observer
	metrics    *metrics.Metrics
	settings   handshake.Settings

	conns      sync.Map // uint32 → *Connection
	active     atomic.Int64
	nextHostID atomic.Uint32

	listener net.Listener
	mu       sync.Mutex
	// closing is set before the table is walked; later arrivals close themselves
	closing atomic.Bool
}

// NewServer creates a server. keys are shared by all connections;
// the dispatcher's registry is frozen by dispatch.New.
func NewServer(cfg config.Server, keys *crypto.KeyRing, d *dispatch.Dispatcher, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	if keys == nil || keys.Len() == 0 {
		return nil, errors.New("server needs at least one RSA key pair")
	}
	if d == nil {
		return nil, errors.New("server needs a dispatcher")
	}

	s := &Server{
		cfg:        cfg,
		keys:       keys,
		dispatcher: d,
		observer:   ObserverFuncs{},
	}

	// Применяем опции
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	s.settings = handshake.DefaultSettings()
	if len(cfg.HandshakeSettings) > 0 {
		copy(s.settings[:], cfg.HandshakeSettings)
	}

	return s, nil
}

// Addr возвращает адрес, на котором слушает сервер.
// Возвращает nil если сервер ещё не запущен.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close stops accepting and closes every connection with ReasonShutdown.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
	}
	s.closing.Store(true)
	s.closeAll(ReasonShutdown)
	return err
}

// Run listens on cfg.ListenAddress and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.ListenAddress()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve принимает готовый listener и запускает accept loop.
// Returns after the listener is closed and every connection has finished.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConnections)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-stop:
		}
	}()

	var wg sync.WaitGroup
	slog.Info("proudnet server started", "address", ln.Addr(), "cipher", s.cfg.CipherMode)
	s.acceptLoop(ctx, &wg, ln)

	// соединения, принятые в гонке с закрытием listener
	s.closing.Store(true)
	s.closeAll(ReasonShutdown)
	wg.Wait()

	slog.Info("proudnet server stopped", "address", ln.Addr())
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			slog.Error("failed to accept new connection", "error", err)
			continue
		}
		wg.Go(func() {
			s.handleConnection(ctx, conn)
		})
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	hostID := s.nextHostID.Add(1)
	c := newConnection(ctx, s, conn, hostID)

	s.conns.Store(hostID, c)
	s.active.Add(1)
	s.metrics.ConnectionOpened()

	slog.Info("client connected", "remote", conn.RemoteAddr(), "host_id", hostID)
	s.observer.OnOpen(c.info())

	// closeAll мог пройти таблицу до Store
	if s.closing.Load() || ctx.Err() != nil {
		c.closeWith(ReasonShutdown, nil)
	}
	c.serve()
}

// remove drops c from the table; called once from Connection.finish.
func (s *Server) remove(c *Connection) {
	if s.conns.CompareAndDelete(c.hostID, c) {
		s.active.Add(-1)
	}
}

func (s *Server) closeAll(reason CloseReason) {
	s.conns.Range(func(_, v any) bool {
		v.(*Connection).closeWith(reason, nil)
		return true
	})
}

// Lookup returns the live connection with hostID.
func (s *Server) Lookup(hostID uint32) (*Connection, bool) {
	v, ok := s.conns.Load(hostID)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// Send queues an application message for hostID.
func (s *Server) Send(hostID uint32, opcode uint16, payload []byte) error {
	c, ok := s.Lookup(hostID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHost, hostID)
	}
	return c.Send(opcode, payload)
}

// Disconnect gracefully closes hostID.
func (s *Server) Disconnect(hostID uint32) error {
	c, ok := s.Lookup(hostID)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHost, hostID)
	}
	c.Close()
	return nil
}

// Count returns the number of live connections.
func (s *Server) Count() int {
	return int(s.active.Load())
}

// Metrics returns the metrics sink the server records into.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}
