package rmi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/rag2go/internal/dispatch"
	"github.com/udisondev/rag2go/internal/protocol/packet"
)

// Session hello body layout (after the u16 opcode). Every field except the
// server GUID is mirrored back verbatim; the status word is opaque and its
// meaning is unconfirmed.
//
//	[0:2]   version       default 01 E1
//	[2:4]   build         default 2E 10
//	[4:6]   field1        default 00 21
//	[6:10]  client GUID   replaced by the server GUID word
//	[10:12] field2        default 00 01
//	[12:16] status        default 00 00 00 01
//	[16:20] field3        default 07 02 25 00
//	[20:24] field4        default 80 3F 00 00
const helloBodySize = 24

type helloField struct {
	offset int
	def    []byte
}

var helloMirrored = []helloField{
	{0, []byte{0x01, 0xE1}},
	{2, []byte{0x2E, 0x10}},
	{4, []byte{0x00, 0x21}},
}

var helloMirroredTail = []helloField{
	{10, []byte{0x00, 0x01}},
	{12, []byte{0x00, 0x00, 0x00, 0x01}},
	{16, []byte{0x07, 0x02, 0x25, 0x00}},
	{20, []byte{0x80, 0x3F, 0x00, 0x00}},
}

// BuildHelloResponse builds the 0x0000 reply body for a client hello body.
// Fields missing from a short request fall back to the captured defaults.
func BuildHelloResponse(req []byte, serverGUID uint32) []byte {
	w := packet.NewWriter(helloBodySize)
	for _, f := range helloMirrored {
		w.WriteBytes(f.mirror(req))
	}
	w.WriteUint32(serverGUID)
	for _, f := range helloMirroredTail {
		w.WriteBytes(f.mirror(req))
	}
	return w.Bytes()
}

func (f helloField) mirror(req []byte) []byte {
	if len(req) >= f.offset+len(f.def) {
		return req[f.offset : f.offset+len(f.def)]
	}
	return f.def
}

// HelloHandler answers the session hello.
type HelloHandler struct {
	// Now supplies the server GUID word (unix seconds). Defaults to time.Now.
	Now func() time.Time
}

func (h HelloHandler) Handle(_ context.Context, msg dispatch.Message, peer dispatch.Peer) error {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	guid := uint32(now().Unix())

	if len(msg.Payload) < helloBodySize {
		slog.Debug("short session hello, using defaults",
			"host_id", msg.HostID, "size", len(msg.Payload))
	}

	resp := BuildHelloResponse(msg.Payload, guid)
	slog.Debug("session hello",
		"host_id", msg.HostID,
		"status", fmt.Sprintf("% x", resp[12:16]),
		"server_guid", fmt.Sprintf("0x%08x", guid))

	return peer.Send(OpSessionHello, resp)
}

// RegisterBuiltins registers the built-in handlers that are not registered yet.
// Call it after registering custom handlers so those take precedence.
func RegisterBuiltins(reg *dispatch.Registry) error {
	if _, ok := reg.Lookup(OpSessionHello); ok {
		return nil
	}
	if err := reg.Register(OpSessionHello, Name(OpSessionHello), HelloHandler{}); err != nil {
		return fmt.Errorf("registering builtins: %w", err)
	}
	return nil
}
