package protocol

import (
	"encoding/binary"

	"github.com/udisondev/rag2go/internal/constants"
)

// Frame is one length-delimited unit of the wire envelope.
// The first payload byte is the control opcode.
type Frame struct {
	Payload []byte
}

// Opcode returns the control opcode. An empty frame reports 0.
func (f Frame) Opcode() byte {
	if len(f.Payload) == 0 {
		return 0
	}
	return f.Payload[0]
}

// Body returns the payload after the opcode byte.
func (f Frame) Body() []byte {
	if len(f.Payload) <= 1 {
		return nil
	}
	return f.Payload[1:]
}

// Encode wraps payload in a frame using the smallest size class.
func Encode(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, constants.FrameMaxHeaderSize+len(payload)), payload)
}

// AppendFrame appends an encoded frame to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, constants.FrameMagic)
	dst = AppendLength(dst, len(payload))
	return append(dst, payload...)
}

// EncodeClass wraps payload with an explicit size class.
// The handshake frame is always sent with class 2 even when the key fits in 255 bytes.
func EncodeClass(class byte, payload []byte) ([]byte, error) {
	return AppendFrameClass(make([]byte, 0, constants.FrameMaxHeaderSize+len(payload)), class, payload)
}

// AppendFrameClass appends a frame with an explicit size class to dst.
func AppendFrameClass(dst []byte, class byte, payload []byte) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint16(dst, constants.FrameMagic)
	dst, err := AppendLengthClass(dst, class, len(payload))
	if err != nil {
		return dst, err
	}
	return append(dst, payload...), nil
}

// HasMagic reports whether buf starts with the frame magic.
func HasMagic(buf []byte) bool {
	return len(buf) >= constants.FrameMagicSize &&
		binary.LittleEndian.Uint16(buf) == constants.FrameMagic
}

// Decode extracts one frame from the head of buf.
//
// Returns n == 0 and a nil error while the frame is incomplete; no bytes are
// consumed for a partial frame. The returned payload aliases buf.
// maxSize <= 0 disables the payload size limit.
func Decode(buf []byte, maxSize int) (Frame, int, error) {
	if err := checkMagic(buf); err != nil {
		return Frame{}, 0, err
	}
	if len(buf) < constants.FrameMagicSize {
		return Frame{}, 0, nil
	}

	length, lenSize, err := ReadLength(buf[constants.FrameMagicSize:])
	if err != nil {
		return Frame{}, 0, err
	}
	if lenSize == 0 {
		return Frame{}, 0, nil
	}
	if maxSize > 0 && length > maxSize {
		return Frame{}, 0, Violation("frame length %d exceeds limit %d", length, maxSize)
	}

	header := constants.FrameMagicSize + lenSize
	if len(buf)-header < length {
		return Frame{}, 0, nil
	}

	end := header + length
	return Frame{Payload: buf[header:end:end]}, end, nil
}

// checkMagic rejects a wrong magic as soon as the first byte disagrees.
func checkMagic(buf []byte) error {
	var magic [constants.FrameMagicSize]byte
	binary.LittleEndian.PutUint16(magic[:], constants.FrameMagic)
	for i := 0; i < len(buf) && i < len(magic); i++ {
		if buf[i] != magic[i] {
			return Violation("bad frame magic % x", buf[:min(len(buf), len(magic))])
		}
	}
	return nil
}
