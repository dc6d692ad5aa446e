package testutil

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/udisondev/rag2go/internal/protocol"
)

// AssertFrameOpcode проверяет control opcode фрейма.
func AssertFrameOpcode(t testing.TB, expected byte, frame protocol.Frame) {
	t.Helper()

	if len(frame.Payload) == 0 {
		t.Fatalf("frame is empty, expected opcode 0x%02X", expected)
	}
	if actual := frame.Opcode(); actual != expected {
		t.Fatalf("frame opcode mismatch: expected 0x%02X, got 0x%02X\n%s", expected, actual, DumpPacket(frame.Payload))
	}
}

// AssertUint16LE проверяет u16 LE значение по смещению.
func AssertUint16LE(t testing.TB, expected uint16, packet []byte, offset int) {
	t.Helper()

	if len(packet) < offset+2 {
		t.Fatalf("packet too short: need %d bytes for uint16 at offset %d, got %d", offset+2, offset, len(packet))
	}
	if actual := binary.LittleEndian.Uint16(packet[offset:]); actual != expected {
		t.Fatalf("uint16 mismatch at offset %d: expected 0x%04X, got 0x%04X", offset, expected, actual)
	}
}

// AssertUint32LE проверяет u32 LE значение по смещению.
func AssertUint32LE(t testing.TB, expected uint32, packet []byte, offset int) {
	t.Helper()

	if len(packet) < offset+4 {
		t.Fatalf("packet too short: need %d bytes for uint32 at offset %d, got %d", offset+4, offset, len(packet))
	}
	if actual := binary.LittleEndian.Uint32(packet[offset:]); actual != expected {
		t.Fatalf("uint32 mismatch at offset %d: expected 0x%08X, got 0x%08X", offset, expected, actual)
	}
}

// AssertBytesEqual сравнивает байты и печатает оба дампа при расхождении.
func AssertBytesEqual(t testing.TB, expected, actual []byte, msg string) {
	t.Helper()

	if !bytes.Equal(expected, actual) {
		t.Fatalf("%s: bytes mismatch\nexpected:\n%s\nactual:\n%s", msg, DumpPacket(expected), DumpPacket(actual))
	}
}

// DumpPacket возвращает hex dump пакета для отладки.
func DumpPacket(packet []byte) string {
	return hex.Dump(packet)
}
