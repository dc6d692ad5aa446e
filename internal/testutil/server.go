package testutil

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/protocol"
)

// ListenTCP открывает listener на случайном loopback порту и закрывает его в t.Cleanup.
func ListenTCP(t testing.TB) (net.Listener, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create TCP listener: %v", err)
	}
	t.Cleanup(func() {
		_ = listener.Close()
	})

	return listener, listener.Addr().String()
}

// ContextWithCancel создаёт context, который отменяется при завершении теста.
func ContextWithCancel(t testing.TB) (context.Context, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, cancel
}

// WaitForHello ждёт, пока сервер начнёт принимать соединения и отправит 0x04.
// Пробное соединение закрывается сразу после hello, сервер видит его как io_error.
//
//	go srv.Serve(ctx, ln)
//	if err := testutil.WaitForHello(addr, 5*time.Second); err != nil {
//	    t.Fatalf("server failed to start: %v", err)
//	}
func WaitForHello(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	var lastErr error
	for time.Now().Before(deadline) {
		lastErr = probeHello(addr, time.Until(deadline))
		if lastErr == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("no handshake from %s within %v: %w", addr, timeout, lastErr)
}

func probeHello(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	fb := protocol.NewFrameBuffer(0)
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return err
		}
		fb.Feed(buf[:n])

		frame, ok, err := fb.Next()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if frame.Opcode() != constants.OpcodeHandshake {
			return fmt.Errorf("expected 0x04, got 0x%02x", frame.Opcode())
		}
		return nil
	}
}

// WaitFor опрашивает check, пока он не вернёт true, и валит тест по timeout.
//
//	client.Close()
//	testutil.WaitFor(t, func() bool { return srv.Count() == 0 }, 3*time.Second)
func WaitFor(t testing.TB, check func() bool, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.Fatalf("condition not met within %v", timeout)
		case <-ticker.C:
			if check() {
				return
			}
		}
	}
}
