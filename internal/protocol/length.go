package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/udisondev/rag2go/internal/constants"
)

// SizeClassFor returns the smallest size class able to carry n.
func SizeClassFor(n int) byte {
	switch {
	case n <= math.MaxUint8:
		return constants.SizeClass8
	case n <= math.MaxUint16:
		return constants.SizeClass16
	default:
		return constants.SizeClass32
	}
}

// AppendLength appends the size-class byte and n using the smallest class.
func AppendLength(dst []byte, n int) []byte {
	dst, _ = AppendLengthClass(dst, SizeClassFor(n), n)
	return dst
}

// AppendLengthClass appends n with an explicit size class.
// Larger classes than necessary are legal on the wire.
func AppendLengthClass(dst []byte, class byte, n int) ([]byte, error) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return dst, fmt.Errorf("length %d out of range", n)
	}
	switch class {
	case constants.SizeClass8:
		if n > math.MaxUint8 {
			return dst, fmt.Errorf("length %d does not fit size class %d", n, class)
		}
		return append(dst, class, byte(n)), nil
	case constants.SizeClass16:
		if n > math.MaxUint16 {
			return dst, fmt.Errorf("length %d does not fit size class %d", n, class)
		}
		dst = append(dst, class)
		return binary.LittleEndian.AppendUint16(dst, uint16(n)), nil
	case constants.SizeClass32:
		dst = append(dst, class)
		return binary.LittleEndian.AppendUint32(dst, uint32(n)), nil
	default:
		return dst, fmt.Errorf("invalid size class %d", class)
	}
}

// ReadLength parses a size-class byte followed by its length field.
// Returns consumed == 0 with a nil error when buf is too short to tell.
// An unknown size class is a protocol violation.
func ReadLength(buf []byte) (length int, consumed int, err error) {
	if len(buf) < constants.FrameSizeClassSize {
		return 0, 0, nil
	}

	class := buf[0]
	var width int
	switch class {
	case constants.SizeClass8:
		width = 1
	case constants.SizeClass16:
		width = 2
	case constants.SizeClass32:
		width = 4
	default:
		return 0, 0, Violation("invalid size class %d", class)
	}

	if len(buf) < 1+width {
		return 0, 0, nil
	}

	switch width {
	case 1:
		length = int(buf[1])
	case 2:
		length = int(binary.LittleEndian.Uint16(buf[1:3]))
	default:
		length = int(binary.LittleEndian.Uint32(buf[1:5]))
	}
	return length, 1 + width, nil
}
