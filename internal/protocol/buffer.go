package protocol

import "github.com/udisondev/rag2go/internal/constants"

// FrameBuffer accumulates stream bytes and yields complete frames in arrival order.
// Not safe for concurrent use; one buffer belongs to one connection.
type FrameBuffer struct {
	buf     []byte
	maxSize int
}

// NewFrameBuffer creates a buffer rejecting payloads larger than maxSize.
// maxSize <= 0 uses DefaultMaxFrameSize.
func NewFrameBuffer(maxSize int) *FrameBuffer {
	if maxSize <= 0 {
		maxSize = constants.DefaultMaxFrameSize
	}
	return &FrameBuffer{
		buf:     make([]byte, 0, constants.DefaultReadBufSize),
		maxSize: maxSize,
	}
}

// Feed appends raw bytes read from the socket.
func (b *FrameBuffer) Feed(p []byte) {
	b.buf = append(b.buf, p...)
}

// Next returns the next complete frame.
// ok is false while the buffered bytes do not yet form a frame.
// The returned payload is a copy and stays valid after further Feed calls.
func (b *FrameBuffer) Next() (f Frame, ok bool, err error) {
	frame, n, err := Decode(b.buf, b.maxSize)
	if err != nil {
		return Frame{}, false, err
	}
	if n == 0 {
		return Frame{}, false, nil
	}

	payload := make([]byte, len(frame.Payload))
	copy(payload, frame.Payload)

	// Сдвигаем остаток в начало, чтобы не расти бесконечно
	rest := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:rest]

	return Frame{Payload: payload}, true, nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (b *FrameBuffer) Buffered() int {
	return len(b.buf)
}
