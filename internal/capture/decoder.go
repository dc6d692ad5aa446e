// Package capture decodes recorded ProudNet traffic offline: it reassembles
// frames per direction, learns the session key from 0x05 when the server key is
// known, and opens envelopes down to application messages.
package capture

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/udisondev/rag2go/internal/channel"
	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/crypto"
	"github.com/udisondev/rag2go/internal/handshake"
	"github.com/udisondev/rag2go/internal/protocol"
	"github.com/udisondev/rag2go/internal/rmi"
)

// Direction of a captured chunk.
type Direction byte

const (
	ClientToServer Direction = 'C'
	ServerToClient Direction = 'S'
)

func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "C→S"
	case ServerToClient:
		return "S→C"
	default:
		return "?"
	}
}

// Record describes one decoded frame.
type Record struct {
	Direction Direction
	Control   byte
	Size      int
	// Depth is the number of envelopes opened to reach the message; 0 for control frames.
	Depth     int
	AppOpcode uint16
	HasApp    bool
	Body      []byte
	Note      string
}

// Name returns a human label for the frame.
func (r Record) Name() string {
	if r.HasApp {
		return rmi.Name(r.AppOpcode)
	}
	return controlName(r.Control)
}

// Options configure a Decoder.
type Options struct {
	// SessionKey decrypts envelopes directly.
	SessionKey []byte
	// ServerKey recovers the session key from the client's 0x05.
	ServerKey *crypto.KeyPair
	Mode      crypto.Mode
	// SessionKeySize used with ServerKey. Zero means 16.
	SessionKeySize int
	MaxDepth       int
}

// Decoder is not safe for concurrent use.
type Decoder struct {
	opts    Options
	streams map[Direction]*protocol.FrameBuffer
	channel *channel.Channel
}

// NewDecoder creates a decoder. With neither key set envelopes are listed but not opened.
func NewDecoder(opts Options) (*Decoder, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 4
	}
	if opts.SessionKeySize <= 0 {
		opts.SessionKeySize = constants.SessionKeySize
	}

	d := &Decoder{
		opts: opts,
		streams: map[Direction]*protocol.FrameBuffer{
			ClientToServer: protocol.NewFrameBuffer(0),
			ServerToClient: protocol.NewFrameBuffer(0),
		},
	}
	if len(opts.SessionKey) > 0 {
		if err := d.useKey(opts.SessionKey); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *Decoder) useKey(key []byte) error {
	bc, err := crypto.NewBlockCipher(d.opts.Mode, key)
	if err != nil {
		return fmt.Errorf("session cipher: %w", err)
	}
	if d.channel != nil {
		d.channel.Close()
	}
	d.channel = channel.New(bc, channel.Options{})
	return nil
}

// Feed appends stream bytes for dir and returns the frames completed by them.
func (d *Decoder) Feed(dir Direction, data []byte) ([]Record, error) {
	fb, ok := d.streams[dir]
	if !ok {
		return nil, fmt.Errorf("unknown direction %q", byte(dir))
	}

	// flash policy отвечается без фрейма
	if dir == ServerToClient && fb.Buffered() == 0 && strings.HasPrefix(string(data), "<?xml") {
		return []Record{{Direction: dir, Control: constants.OpcodePolicyRequest, Size: len(data), Note: "flash policy (raw)"}}, nil
	}

	fb.Feed(data)

	var out []Record
	for {
		frame, ok, err := fb.Next()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, d.decode(dir, frame))
	}
}

func (d *Decoder) decode(dir Direction, frame protocol.Frame) Record {
	rec := Record{Direction: dir, Control: frame.Opcode(), Size: len(frame.Payload), Body: frame.Body()}

	switch frame.Opcode() {
	case constants.OpcodeHandshake:
		if _, der, err := handshake.ParseHello(frame.Payload); err == nil {
			rec.Note = fmt.Sprintf("RSA public key %d bytes", len(der))
		}
	case constants.OpcodeHandshakeResponse:
		rec.Note = d.learnKey(frame.Payload)
	case constants.OpcodeVersionCheck:
		if vc, err := handshake.ParseVersionCheck(frame.Payload); err == nil {
			rec.Note = fmt.Sprintf("version 0x%04x guid %s", vc.Version, vc.ClientGUID)
		}
	case constants.OpcodeConnectionSuccess:
		if cs, err := handshake.ParseConnectionSuccess(frame.Payload); err == nil {
			rec.Note = fmt.Sprintf("host id %d ip %s", cs.HostID, cs.ClientIP)
		}
	case constants.OpcodeHeartbeat, constants.OpcodeHeartbeatAck:
		rec.Note = fmt.Sprintf("seq %d", protocol.HeartbeatSeq(frame.Payload))
	case constants.OpcodeEncrypted, constants.OpcodeEncryptedAlt:
		d.open(&rec, frame)
	}
	return rec
}

func (d *Decoder) learnKey(payload []byte) string {
	if d.opts.ServerKey == nil {
		return "session key (server key unknown)"
	}
	blob, _, err := handshake.ParseKeyResponse(payload)
	if err != nil {
		return err.Error()
	}
	key, err := d.opts.ServerKey.DecryptSessionKey(blob, d.opts.SessionKeySize)
	if err != nil {
		return fmt.Sprintf("session key: %v", err)
	}
	if err := d.useKey(key); err != nil {
		return err.Error()
	}
	return "session key " + hex.EncodeToString(key)
}

func (d *Decoder) open(rec *Record, frame protocol.Frame) {
	if d.channel == nil {
		rec.Note = "encrypted (no session key)"
		return
	}

	for depth := 1; ; depth++ {
		if depth > d.opts.MaxDepth {
			rec.Note = fmt.Sprintf("nesting exceeds %d", d.opts.MaxDepth)
			return
		}
		plain, err := d.channel.Open(frame.Payload)
		if err != nil {
			rec.Note = err.Error()
			return
		}
		rec.Depth = depth

		if !protocol.HasMagic(plain) {
			if len(plain) < constants.AppOpcodeSize {
				rec.Note = "short application message"
				return
			}
			rec.HasApp = true
			rec.AppOpcode = binary.LittleEndian.Uint16(plain)
			rec.Body = plain[constants.AppOpcodeSize:]
			return
		}

		nested, n, err := protocol.Decode(plain, 0)
		if err != nil || n != len(plain) {
			rec.Note = "bad nested frame"
			return
		}
		if !channel.IsEnvelope(nested.Opcode()) {
			rec.Control = nested.Opcode()
			rec.Body = nested.Body()
			return
		}
		frame = nested
	}
}

// ReadAll decodes a text capture: one chunk per line, "C <hex>" or "S <hex>".
// Blank lines and lines starting with # are skipped; whitespace inside hex is ignored.
func (d *Decoder) ReadAll(r io.Reader) ([]Record, error) {
	var out []Record

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*constants.DefaultMaxFrameSize)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		dir := Direction(strings.ToUpper(text[:1])[0])
		if dir != ClientToServer && dir != ServerToClient {
			return out, fmt.Errorf("line %d: direction must be C or S", line)
		}
		data, err := hex.DecodeString(strings.Join(strings.Fields(text[1:]), ""))
		if err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}

		recs, err := d.Feed(dir, data)
		out = append(out, recs...)
		if err != nil {
			return out, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func controlName(op byte) string {
	switch op {
	case constants.OpcodeDisconnectNotify:
		return "DisconnectNotify"
	case constants.OpcodeHandshake:
		return "Handshake"
	case constants.OpcodeHandshakeResponse:
		return "KeyResponse"
	case constants.OpcodeHandshakeAck:
		return "HandshakeAck"
	case constants.OpcodeVersionCheck:
		return "VersionCheck"
	case constants.OpcodeConnectionSuccess:
		return "ConnectionSuccess"
	case constants.OpcodeHeartbeat:
		return "Heartbeat"
	case constants.OpcodeKeepAlive:
		return "KeepAlive"
	case constants.OpcodeHeartbeatAck:
		return "HeartbeatAck"
	case constants.OpcodeEncrypted, constants.OpcodeEncryptedAlt:
		return "Encrypted"
	case constants.OpcodePolicyRequest:
		return "PolicyRequest"
	default:
		return fmt.Sprintf("0x%02x", op)
	}
}
