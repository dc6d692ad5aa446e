// Package rmi holds the application message catalog known so far and the
// built-in handlers every deployment needs.
package rmi

import "fmt"

// Application opcodes seen in captures of the official client.
const (
	OpSessionHello           uint16 = 0x0000
	OpNfyServerTime          uint16 = 0x1000
	OpNfyServerTimeToLoginPC uint16 = 0x1001
	OpNfyChannelDisconnect   uint16 = 0x1002
	OpReqLogin               uint16 = 0x2EE2
	OpAckLogin               uint16 = 0x30D5
)

var names = map[uint16]string{
	OpSessionHello:           "SessionHello",
	OpNfyServerTime:          "NfyServerTime",
	OpNfyServerTimeToLoginPC: "NfyServerTimeToLoginPC",
	OpNfyChannelDisconnect:   "NfyChannelDisconnect",
	OpReqLogin:               "ReqLogin",
	OpAckLogin:               "AckLogin",
}

// Name returns the catalog name of opcode, or its hex form when unknown.
func Name(opcode uint16) string {
	if n, ok := names[opcode]; ok {
		return n
	}
	return fmt.Sprintf("0x%04x", opcode)
}

// Known reports whether opcode is in the catalog.
func Known(opcode uint16) bool {
	_, ok := names[opcode]
	return ok
}
