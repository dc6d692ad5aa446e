package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/rag2go/internal/channel"
	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/crypto"
	"github.com/udisondev/rag2go/internal/dispatch"
	"github.com/udisondev/rag2go/internal/handshake"
	"github.com/udisondev/rag2go/internal/protocol"
)

// handleFrame routes one outer frame by connection phase.
// The returned error is fatal when protocol.IsFatal reports so.
func (c *Connection) handleFrame(frame protocol.Frame) error {
	switch c.State() {
	case StateKeyExchange:
		if c.negotiator.Phase() == handshake.PhaseAwaitingKey {
			return c.handleAwaitingKey(frame)
		}
		return c.handleAwaitingResponse(frame)
	case StateReady:
		return c.handleReady(frame)
	default:
		return nil
	}
}

func (c *Connection) handleAwaitingKey(frame protocol.Frame) error {
	if len(frame.Payload) == 0 {
		return protocol.Violation("empty frame during key exchange")
	}

	switch op := frame.Opcode(); op {
	case constants.OpcodeHandshakeResponse:
		ack, trailing, err := c.negotiator.HandleKeyResponse(frame.Payload)
		if err != nil {
			return err
		}
		if trailing > 0 {
			slog.Debug("key response has trailing bytes", "remote", c.ip, "trailing", trailing)
		}

		bc, err := crypto.NewBlockCipher(crypto.Mode(c.srv.cfg.CipherMode), c.negotiator.SessionKey())
		if err != nil {
			return protocol.CryptoFailure("session cipher", err)
		}
		c.channel.Store(channel.New(bc, channel.Options{
			CompressionThreshold: c.srv.cfg.CompressionThreshold,
			MaxPlaintextSize:     c.srv.cfg.MaxFrameSize,
		}))
		return c.enqueue(ack)

	case constants.OpcodePolicyRequest:
		if !c.srv.cfg.FlashPolicy {
			return protocol.Violation("flash policy request while disabled")
		}
		slog.Debug("flash policy request", "remote", c.ip)
		return c.enqueue([]byte(constants.FlashPolicyXML))

	case constants.OpcodeDisconnectNotify:
		return errPeerDisconnect

	default:
		return protocol.Violation("opcode 0x%02x before session key", op)
	}
}

func (c *Connection) handleAwaitingResponse(frame protocol.Frame) error {
	switch op := frame.Opcode(); {
	case len(frame.Payload) == 0:
		return protocol.Violation("empty frame during key exchange")

	case op == constants.OpcodeVersionCheck:
		success, err := c.negotiator.HandleVersionCheck(frame.Payload)
		if err != nil {
			return err
		}
		// 0x0A встаёт в очередь раньше, чем Send начнёт принимать сообщения
		if err := c.enqueue(success); err != nil {
			return err
		}
		if !c.state.CompareAndSwap(int32(StateKeyExchange), int32(StateReady)) {
			return nil
		}
		c.startHeartbeat()

		elapsed := time.Since(c.openedAt)
		c.srv.metrics.HandshakeCompleted(elapsed)
		slog.Info("handshake completed",
			"remote", c.ip,
			"host_id", c.hostID,
			"client_version", fmt.Sprintf("0x%04x", c.negotiator.ClientVersion()),
			"elapsed", elapsed)
		return nil

	case op == constants.OpcodeHeartbeat, op == constants.OpcodeKeepAlive:
		return nil

	case op == constants.OpcodeDisconnectNotify:
		return errPeerDisconnect

	default:
		return protocol.Violation("opcode 0x%02x before handshake completed", op)
	}
}

// handleReady unwraps envelopes in a bounded loop. Each opened envelope either
// yields an application message or a nested frame routed again.
func (c *Connection) handleReady(frame protocol.Frame) error {
	maxDepth := c.srv.cfg.MaxEnvelopeDepth

	for depth := 0; ; {
		if !channel.IsEnvelope(frame.Opcode()) {
			return c.handleReadyControl(frame)
		}

		depth++
		if depth > maxDepth {
			return protocol.Violation("envelope nesting exceeds %d", maxDepth)
		}

		ch := c.channel.Load()
		if ch == nil {
			return protocol.Violation("envelope without session key")
		}
		plain, err := ch.Open(frame.Payload)
		if err != nil {
			return err
		}

		// application opcode 0x5713 is shadowed: its bytes are the magic
		if !protocol.HasMagic(plain) {
			return c.dispatchMessage(plain)
		}

		nested, n, err := protocol.Decode(plain, c.srv.cfg.MaxFrameSize)
		if err != nil {
			return err
		}
		if n == 0 {
			return protocol.Violation("truncated nested frame")
		}
		if n != len(plain) {
			return protocol.Violation("%d bytes after nested frame", len(plain)-n)
		}
		frame = nested
	}
}

func (c *Connection) handleReadyControl(frame protocol.Frame) error {
	if len(frame.Payload) == 0 {
		c.resetHeartbeat()
		return nil
	}

	switch op := frame.Opcode(); op {
	case constants.OpcodeHeartbeat:
		c.resetHeartbeat()
		return c.enqueue(protocol.Encode(protocol.BuildHeartbeatAck(protocol.HeartbeatSeq(frame.Payload))))

	case constants.OpcodeKeepAlive:
		c.resetHeartbeat()
		return nil

	case constants.OpcodeDisconnectNotify:
		return errPeerDisconnect

	case constants.OpcodeHandshake,
		constants.OpcodeHandshakeResponse,
		constants.OpcodeHandshakeAck,
		constants.OpcodeVersionCheck,
		constants.OpcodeConnectionSuccess,
		constants.OpcodePolicyRequest:
		return protocol.Violation("handshake opcode 0x%02x after handshake", op)

	default:
		err := fmt.Errorf("%w: control 0x%02x", protocol.ErrUnknownOpcode, op)
		slog.Debug("dropping frame", "remote", c.ip, "host_id", c.hostID, "err", err)
		return err
	}
}

// dispatchMessage hands a decrypted application message to the dispatcher.
// Handler failures are logged by the dispatcher and never close the connection.
func (c *Connection) dispatchMessage(plain []byte) error {
	if len(plain) < constants.AppOpcodeSize {
		return protocol.Violation("application message of %d bytes", len(plain))
	}

	msg := dispatch.Message{
		Opcode:  binary.LittleEndian.Uint16(plain),
		Payload: plain[constants.AppOpcodeSize:],
		HostID:  c.hostID,
	}

	err := c.srv.dispatcher.Dispatch(c.ctx, msg, c)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
