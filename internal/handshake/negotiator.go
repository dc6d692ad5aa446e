// Package handshake drives the RSA / session-key exchange of one connection:
//
//	server → 0x04 settings + RSA public key
//	client → 0x05 RSA-encrypted session key
//	server → 0x06 ack
//	client → 0x07 version check
//	server → 0x0A connection success
package handshake

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/crypto"
	"github.com/udisondev/rag2go/internal/protocol"
)

// Phase is the negotiation progress.
type Phase int32

const (
	// PhaseAwaitingKey: 0x04 sent, waiting for the client's 0x05.
	PhaseAwaitingKey Phase = iota
	// PhaseAwaitingResponse: 0x06 sent, waiting for the client's 0x07.
	PhaseAwaitingResponse
	// PhaseReady: 0x0A sent, application traffic may flow.
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingKey:
		return "AWAITING_KEY"
	case PhaseAwaitingResponse:
		return "AWAITING_RESPONSE"
	case PhaseReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// Options configure one negotiation.
type Options struct {
	Settings       Settings
	SessionKeySize int
	MinVersion     uint16
	MaxVersion     uint16

	// HostID and ClientIP are echoed in 0x0A.
	HostID   uint32
	ClientIP string
	// ServerGUID defaults to a random UUID.
	ServerGUID uuid.UUID
}

// Negotiator holds the handshake state of one connection.
// The key pair is shared process-wide; the negotiated key belongs to this connection only.
type Negotiator struct {
	keys  *crypto.KeyPair
	opts  Options
	phase atomic.Int32

	mu            sync.Mutex
	sessionKey    []byte
	clientVersion uint16
	clientGUID    uuid.UUID
}

// New creates a negotiator in PhaseAwaitingKey.
func New(keys *crypto.KeyPair, opts Options) *Negotiator {
	if opts.SessionKeySize <= 0 {
		opts.SessionKeySize = constants.SessionKeySize
	}
	if opts.ServerGUID == uuid.Nil {
		opts.ServerGUID = uuid.New()
	}
	return &Negotiator{keys: keys, opts: opts}
}

// Phase returns the current phase.
func (n *Negotiator) Phase() Phase {
	return Phase(n.phase.Load())
}

// Hello returns the wire-ready 0x04 frame. The frame always carries a 2-byte length field.
func (n *Negotiator) Hello() ([]byte, error) {
	payload, err := BuildHello(n.opts.Settings, n.keys.PublicKeyDER())
	if err != nil {
		return nil, err
	}
	return protocol.EncodeClass(constants.SizeClass16, payload)
}

// HandleKeyResponse decrypts the session key from a 0x05 payload and returns the 0x06 frame.
// trailing reports extra bytes after the RSA blob.
func (n *Negotiator) HandleKeyResponse(payload []byte) (ack []byte, trailing int, err error) {
	if p := n.Phase(); p != PhaseAwaitingKey {
		return nil, 0, protocol.Violation("key response in phase %s", p)
	}

	blob, trailing, err := ParseKeyResponse(payload)
	if err != nil {
		return nil, 0, err
	}

	key, err := n.keys.DecryptSessionKey(blob, n.opts.SessionKeySize)
	if err != nil {
		return nil, 0, protocol.CryptoFailure("session key", err)
	}

	n.mu.Lock()
	n.sessionKey = key
	n.mu.Unlock()
	n.phase.Store(int32(PhaseAwaitingResponse))

	return protocol.Encode([]byte{constants.OpcodeHandshakeAck}), trailing, nil
}

// HandleVersionCheck validates a 0x07 payload and returns the 0x0A frame.
func (n *Negotiator) HandleVersionCheck(payload []byte) ([]byte, error) {
	if p := n.Phase(); p != PhaseAwaitingResponse {
		return nil, protocol.Violation("version check in phase %s", p)
	}

	vc, err := ParseVersionCheck(payload)
	if err != nil {
		return nil, err
	}
	if vc.Version < n.opts.MinVersion || vc.Version > n.opts.MaxVersion {
		return nil, protocol.Violation("client version 0x%04x outside [0x%04x, 0x%04x]",
			vc.Version, n.opts.MinVersion, n.opts.MaxVersion)
	}

	success, err := BuildConnectionSuccess(ConnectionSuccess{
		HostID:     n.opts.HostID,
		ServerGUID: n.opts.ServerGUID,
		ClientIP:   n.opts.ClientIP,
	})
	if err != nil {
		return nil, fmt.Errorf("building connection success: %w", err)
	}

	n.mu.Lock()
	n.clientVersion = vc.Version
	n.clientGUID = vc.ClientGUID
	n.mu.Unlock()
	n.phase.Store(int32(PhaseReady))

	return protocol.Encode(success), nil
}

// SessionKey returns the negotiated key, or nil before 0x05.
// The slice is owned by the negotiator and wiped by Zeroize.
func (n *Negotiator) SessionKey() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sessionKey
}

// ClientVersion returns the version reported in 0x07.
func (n *Negotiator) ClientVersion() uint16 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clientVersion
}

// ClientGUID returns the GUID reported in 0x07.
func (n *Negotiator) ClientGUID() uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clientGUID
}

// ServerGUID returns the GUID sent in 0x0A.
func (n *Negotiator) ServerGUID() uuid.UUID {
	return n.opts.ServerGUID
}

// Zeroize wipes the negotiated key. Idempotent.
func (n *Negotiator) Zeroize() {
	n.mu.Lock()
	defer n.mu.Unlock()
	crypto.Zeroize(n.sessionKey)
	n.sessionKey = nil
}
