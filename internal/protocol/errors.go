package protocol

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every layer of the protocol engine.
// Callers classify with errors.Is; components wrap with fmt.Errorf("%w: ...").
var (
	// ErrProtocolViolation: bad magic, bad size class, out-of-order handshake,
	// traffic before the handshake ack, excessive envelope nesting. Always fatal.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrCrypto: RSA or symmetric decryption failure. Always fatal.
	ErrCrypto = errors.New("crypto error")

	// ErrUnknownOpcode: no handler registered. Never fatal.
	ErrUnknownOpcode = errors.New("unknown opcode")

	// ErrTimeout: missed heartbeat or stalled handshake. Fatal.
	ErrTimeout = errors.New("timeout")

	// ErrIO: socket failure. Fatal, never retried at this layer.
	ErrIO = errors.New("io error")

	// ErrHandler: error surfaced by an application handler. Not fatal by itself.
	ErrHandler = errors.New("handler error")
)

// Violation returns an ErrProtocolViolation with a formatted detail.
func Violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}

// CryptoFailure wraps err as ErrCrypto.
func CryptoFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrCrypto, op, err)
}

// IsFatal reports whether err must terminate the connection.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnknownOpcode) || errors.Is(err, ErrHandler) {
		return false
	}
	return true
}
