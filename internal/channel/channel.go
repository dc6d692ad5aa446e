// Package channel seals and opens the encrypted envelopes (0x25/0x26) of an
// established connection. The cipher itself is pluggable; see crypto.BlockCipher.
package channel

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/klauspost/compress/zlib"

	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/crypto"
	"github.com/udisondev/rag2go/internal/protocol"
	"github.com/udisondev/rag2go/internal/protocol/packet"
)

var errClosed = errors.New("secure channel closed")

// Options tune envelope processing.
type Options struct {
	// CompressionThreshold enables zlib for outbound plaintexts of at least this size.
	// Zero disables outbound compression; inbound compressed envelopes are always accepted.
	CompressionThreshold int

	// MaxPlaintextSize bounds the inflated size of a compressed envelope.
	// Zero uses constants.DefaultMaxFrameSize.
	MaxPlaintextSize int
}

// Channel is the per-connection SecureChannel. Safe for concurrent Seal and Open.
type Channel struct {
	cipher crypto.BlockCipher
	opts   Options
	closed atomic.Bool
}

// New creates a channel over an established cipher. The channel owns the cipher.
func New(c crypto.BlockCipher, opts Options) *Channel {
	if opts.MaxPlaintextSize <= 0 {
		opts.MaxPlaintextSize = constants.DefaultMaxFrameSize
	}
	return &Channel{cipher: c, opts: opts}
}

// IsEnvelope reports whether a control opcode carries an encrypted envelope.
func IsEnvelope(opcode byte) bool {
	return opcode == constants.OpcodeEncrypted || opcode == constants.OpcodeEncryptedAlt
}

// Seal encrypts plaintext into an envelope payload:
//
//	[0x25][flag][length varint][ciphertext]
//
// The result is a frame payload; wrap it with protocol.Encode before writing.
func (ch *Channel) Seal(plaintext []byte) ([]byte, error) {
	if ch.closed.Load() {
		return nil, errClosed
	}

	flag := constants.EnvelopeFlagEncrypted
	data := plaintext
	if t := ch.opts.CompressionThreshold; t > 0 && len(plaintext) >= t {
		compressed, err := deflate(plaintext)
		if err != nil {
			return nil, fmt.Errorf("compress envelope: %w", err)
		}
		data = compressed
		flag = constants.EnvelopeFlagEncryptedCompressed
	}

	ct, err := ch.cipher.Encrypt(data)
	if err != nil {
		return nil, protocol.CryptoFailure("seal envelope", err)
	}

	w := packet.Get()
	defer w.Put()
	_ = w.WriteByte(constants.OpcodeEncrypted)
	_ = w.WriteByte(flag)
	w.WriteLengthPrefixed(ct)
	return w.Copy(), nil
}

// Open decrypts an envelope payload (starting with 0x25 or 0x26) and returns the inner bytes.
// Structural defects are protocol violations; decryption and inflate failures are crypto errors.
func (ch *Channel) Open(payload []byte) ([]byte, error) {
	if ch.closed.Load() {
		return nil, errClosed
	}

	r := packet.NewReader(payload)
	opcode, err := r.ReadByte()
	if err != nil {
		return nil, protocol.Violation("empty envelope")
	}
	if !IsEnvelope(opcode) {
		return nil, protocol.Violation("opcode 0x%02x is not an envelope", opcode)
	}

	flag, err := r.ReadByte()
	if err != nil {
		return nil, protocol.Violation("envelope without flag")
	}
	if flag != constants.EnvelopeFlagEncrypted && flag != constants.EnvelopeFlagEncryptedCompressed {
		return nil, protocol.Violation("unknown envelope flag 0x%02x", flag)
	}

	ct, err := r.ReadLengthPrefixed()
	if err != nil {
		return nil, protocol.Violation("envelope length: %v", err)
	}
	if r.Remaining() != 0 {
		return nil, protocol.Violation("%d trailing bytes after envelope", r.Remaining())
	}

	plain, err := ch.cipher.Decrypt(ct)
	if err != nil {
		return nil, protocol.CryptoFailure("open envelope", err)
	}

	if flag == constants.EnvelopeFlagEncryptedCompressed {
		plain, err = inflate(plain, ch.opts.MaxPlaintextSize)
		if err != nil {
			return nil, protocol.CryptoFailure("inflate envelope", err)
		}
	}
	return plain, nil
}

// Close zeroizes the session key. Idempotent.
func (ch *Channel) Close() {
	if ch.closed.Swap(true) {
		return
	}
	ch.cipher.Zeroize()
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte, limit int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, fmt.Errorf("inflated size exceeds %d bytes", limit)
	}
	return out, nil
}
