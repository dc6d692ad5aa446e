package server

// ConnectionState represents the lifecycle of one connection.
type ConnectionState int32

const (
	StateConnecting  ConnectionState = iota // TCP accepted, nothing sent yet
	StateKeyExchange                        // 0x04 sent, handshake in progress
	StateReady                              // 0x0A sent, application traffic allowed
	StateClosing                            // close requested, flushing
	StateClosed                             // terminal
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateKeyExchange:
		return "KEY_EXCHANGE"
	case StateReady:
		return "READY"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
