package server

import (
	"errors"

	"github.com/udisondev/rag2go/internal/protocol"
)

// CloseReason tells lifecycle observers why a connection ended.
type CloseReason int

const (
	ReasonUnknown CloseReason = iota
	// ReasonDisconnect: the client sent 0x01.
	ReasonDisconnect
	// ReasonTimeout: missed heartbeat or stalled handshake.
	ReasonTimeout
	ReasonProtocolViolation
	ReasonCryptoError
	// ReasonIOError: socket failure or the peer went away without 0x01.
	ReasonIOError
	// ReasonSlowConsumer: outbound queue above send_queue_limit.
	ReasonSlowConsumer
	// ReasonServerClose: Peer.Close or Server.Disconnect.
	ReasonServerClose
	// ReasonShutdown: the server is stopping.
	ReasonShutdown
)

func (r CloseReason) String() string {
	switch r {
	case ReasonDisconnect:
		return "disconnect"
	case ReasonTimeout:
		return "timeout"
	case ReasonProtocolViolation:
		return "protocol_violation"
	case ReasonCryptoError:
		return "crypto_error"
	case ReasonIOError:
		return "io_error"
	case ReasonSlowConsumer:
		return "slow_consumer"
	case ReasonServerClose:
		return "server_close"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// errPeerDisconnect marks a 0x01 from the client.
var errPeerDisconnect = errors.New("peer sent disconnect notify")

// reasonFor maps a fatal error to its close reason.
func reasonFor(err error) CloseReason {
	switch {
	case errors.Is(err, errPeerDisconnect):
		return ReasonDisconnect
	case errors.Is(err, protocol.ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, protocol.ErrProtocolViolation):
		return ReasonProtocolViolation
	case errors.Is(err, protocol.ErrCrypto):
		return ReasonCryptoError
	default:
		return ReasonIOError
	}
}

// flushes reports whether queued output is still written before the socket closes.
func (r CloseReason) flushes() bool {
	switch r {
	case ReasonDisconnect, ReasonServerClose, ReasonShutdown, ReasonProtocolViolation, ReasonTimeout:
		return true
	default:
		return false
	}
}
