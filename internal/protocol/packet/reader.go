package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/udisondev/rag2go/internal/constants"
)

// Reader provides methods for reading control and application payloads.
// Uses Little-Endian byte order for all multi-byte values.
type Reader struct {
	data []byte
	pos  int
}

// NewReader creates a new Reader over data.
func NewReader(data []byte) *Reader {
	return &Reader{
		data: data,
		pos:  0,
	}
}

// ReadByte reads 1 byte.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("ReadByte: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// ReadUint16 reads a uint16 (2 bytes, LE).
func (r *Reader) ReadUint16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("ReadUint16: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return val, nil
}

// ReadUint32 reads a uint32 (4 bytes, LE).
func (r *Reader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("ReadUint32: not enough data (pos=%d, len=%d)", r.pos, len(r.data))
	}
	val := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return val, nil
}

// ReadBytes reads n bytes. The result aliases the underlying data.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("ReadBytes: not enough data (pos=%d, need=%d, len=%d)", r.pos, n, len(r.data))
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadLength reads a size-class prefixed length (class byte 1, 2 or 4, then that many LE bytes).
func (r *Reader) ReadLength() (int, error) {
	class, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("ReadLength: %w", err)
	}

	switch class {
	case constants.SizeClass8:
		b, err := r.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("ReadLength: %w", err)
		}
		return int(b), nil
	case constants.SizeClass16:
		v, err := r.ReadUint16()
		if err != nil {
			return 0, fmt.Errorf("ReadLength: %w", err)
		}
		return int(v), nil
	case constants.SizeClass32:
		v, err := r.ReadUint32()
		if err != nil {
			return 0, fmt.Errorf("ReadLength: %w", err)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("ReadLength: invalid size class %d at pos=%d", class, r.pos-1)
	}
}

// ReadLengthPrefixed reads a size-class length followed by that many bytes.
func (r *Reader) ReadLengthPrefixed() ([]byte, error) {
	n, err := r.ReadLength()
	if err != nil {
		return nil, err
	}
	return r.ReadBytes(n)
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return fmt.Errorf("Skip: not enough data (pos=%d, need=%d, len=%d)", r.pos, n, len(r.data))
	}
	r.pos += n
	return nil
}

// Rest returns the unread bytes without advancing.
func (r *Reader) Rest() []byte {
	return r.data[r.pos:]
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.pos
}

// Position returns the current read position.
func (r *Reader) Position() int {
	return r.pos
}
