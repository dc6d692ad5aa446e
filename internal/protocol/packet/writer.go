package packet

import (
	"bytes"
	"math"
	"sync"

	"github.com/udisondev/rag2go/internal/constants"
)

// Writer provides methods for writing control and application payloads.
// Uses Little-Endian byte order for all multi-byte values.
type Writer struct {
	buf *bytes.Buffer
}

// writerPool reduces allocations by reusing Writers.
// Get() returns a Writer with Reset() called, Put() returns it to pool.
var writerPool = sync.Pool{
	New: func() any {
		return &Writer{
			buf: bytes.NewBuffer(make([]byte, 0, 512)),
		}
	},
}

// Get returns a Writer from the pool (already Reset).
func Get() *Writer {
	w := writerPool.Get().(*Writer)
	w.Reset()
	return w
}

// Put returns a Writer to the pool for reuse.
// IMPORTANT: Do not use the Writer after calling Put.
func (w *Writer) Put() {
	writerPool.Put(w)
}

// NewWriter creates a new writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{
		buf: bytes.NewBuffer(make([]byte, 0, capacity)),
	}
}

// WriteByte writes a single byte.
func (w *Writer) WriteByte(b byte) error {
	return w.buf.WriteByte(b)
}

// WriteUint16 writes a uint16 (2 bytes, LE).
func (w *Writer) WriteUint16(val uint16) {
	w.buf.WriteByte(byte(val))
	w.buf.WriteByte(byte(val >> 8))
}

// WriteUint32 writes a uint32 (4 bytes, LE).
func (w *Writer) WriteUint32(val uint32) {
	w.buf.WriteByte(byte(val))
	w.buf.WriteByte(byte(val >> 8))
	w.buf.WriteByte(byte(val >> 16))
	w.buf.WriteByte(byte(val >> 24))
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(data []byte) {
	w.buf.Write(data)
}

// WriteLength writes n with the smallest size class that fits.
func (w *Writer) WriteLength(n int) {
	switch {
	case n <= math.MaxUint8:
		w.buf.WriteByte(constants.SizeClass8)
		w.buf.WriteByte(byte(n))
	case n <= math.MaxUint16:
		w.buf.WriteByte(constants.SizeClass16)
		w.WriteUint16(uint16(n))
	default:
		w.buf.WriteByte(constants.SizeClass32)
		w.WriteUint32(uint32(n))
	}
}

// WriteLengthPrefixed writes a size-class length followed by data.
func (w *Writer) WriteLengthPrefixed(data []byte) {
	w.WriteLength(len(data))
	w.buf.Write(data)
}

// Bytes returns the written bytes. Valid until the next write or Reset.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

// Copy returns a copy of the written bytes, safe to use after Put.
func (w *Writer) Copy() []byte {
	return bytes.Clone(w.buf.Bytes())
}

// Len returns the number of bytes written.
func (w *Writer) Len() int {
	return w.buf.Len()
}

// Reset clears the buffer for reuse.
func (w *Writer) Reset() {
	w.buf.Reset()
}
