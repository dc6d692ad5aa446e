package constants

// ProudNet / RO2 Protocol Constants
//
// This file contains wire-level constants for the ProudNet transport used by the
// Ragnarok Online 2 client. Values come from packet captures of the official server.

// Framing Constants
const (
	// FrameMagic is the envelope magic (u16 LE, bytes 13 57 on the wire)
	FrameMagic uint16 = 0x5713

	// FrameMagicSize is the size of the magic field in bytes
	FrameMagicSize = 2

	// FrameSizeClassSize is the size of the size-class byte that precedes the length
	FrameSizeClassSize = 1

	// FrameMinHeaderSize is magic + size class + 1-byte length
	FrameMinHeaderSize = FrameMagicSize + FrameSizeClassSize + 1

	// FrameMaxHeaderSize is magic + size class + 4-byte length
	FrameMaxHeaderSize = FrameMagicSize + FrameSizeClassSize + 4

	// DefaultMaxFrameSize is the largest payload accepted from a client (64KB)
	DefaultMaxFrameSize = 65536
)

// Length size classes. The size-class byte carries the width of the length field.
const (
	SizeClass8  byte = 1
	SizeClass16 byte = 2
	SizeClass32 byte = 4
)

// Protocol-control opcodes (first payload byte of an outer frame)
const (
	OpcodeDisconnectNotify  byte = 0x01
	OpcodeHandshake         byte = 0x04 // server → client: settings + RSA public key
	OpcodeHandshakeResponse byte = 0x05 // client → server: RSA-encrypted session key
	OpcodeHandshakeAck      byte = 0x06 // server → client: session key accepted
	OpcodeVersionCheck      byte = 0x07
	OpcodeConnectionSuccess byte = 0x0A
	OpcodeHeartbeat         byte = 0x1B
	OpcodeKeepAlive         byte = 0x1C
	OpcodeHeartbeatAck      byte = 0x1D
	OpcodeEncrypted         byte = 0x25
	OpcodeEncryptedAlt      byte = 0x26
	OpcodePolicyRequest     byte = 0x2F
)

// Envelope flags (byte after the 0x25/0x26 opcode)
const (
	EnvelopeFlagEncrypted           byte = 0x01
	EnvelopeFlagEncryptedCompressed byte = 0x02
)

// Application opcodes are u16 LE at the start of a decrypted payload.
const (
	AppOpcodeSize = 2
)

// Crypto Constants
const (
	// RSAKeyBits is the key size the reference client is known to accept
	RSAKeyBits = 1024

	// RSAMinKeyBits is the smallest modulus this server will generate or load
	RSAMinKeyBits = 1024

	// SessionKeySize is the AES-128 session key length in bytes
	SessionKeySize = 16

	// AESBlockSize is the AES block size in bytes
	AESBlockSize = 16
)

// Handshake payload layout (opcode 0x04)
//
//	[opcode 1 byte]
//	[settings 10 × u32 LE]
//	[DER length u16 LE]
//	[PKCS#1 DER public key]
const (
	HandshakeSettingsCount = 10
	HandshakeSettingsSize  = HandshakeSettingsCount * 4

	// HandshakeDEROffset is the offset of the DER blob inside the 0x04 payload
	HandshakeDEROffset = 1 + HandshakeSettingsSize + 2
)

// Version check layout (opcode 0x07)
//
//	[opcode 1 byte][version u16 LE][client GUID 16 bytes][flags ...]
const (
	GUIDSize            = 16
	VersionCheckMinSize = 1 + 2 + GUIDSize
)

// Connection success layout (opcode 0x0A)
//
//	[opcode][host id u32][server GUID 16][01 00][01][01][ip len u8][ip][AC F6]
var (
	ConnectionSuccessFlags   = [4]byte{0x01, 0x00, 0x01, 0x01}
	ConnectionSuccessTrailer = [2]byte{0xAC, 0xF6}
)

// Heartbeat layout
const (
	// HeartbeatSequenceSize is the u16 sequence echoed in the ack
	HeartbeatSequenceSize = 2

	// HeartbeatAckSize is the total 0x1D payload size (opcode + seq + 14 reserved)
	HeartbeatAckSize = 17
)

// FlashPolicyXML is sent raw (no framing) in reply to 0x2F. 110 bytes with the terminator.
const FlashPolicyXML = "<?xml version=\"1.0\"?><cross-domain-policy><allow-access-from domain=\"*\" to-ports=\"*\" /></cross-domain-policy>\x00"

// Default handshake settings observed in captures of the official server.
// Only AES key bits (+0x638) and fast-encrypt key bits (+0x63c) are confirmed.
const (
	SettingFlags              uint32 = 0x00000000
	SettingVersion            uint32 = 0x01000000
	SettingUnknown1           uint32 = 0x27C00001
	SettingUnknown2           uint32 = 0x00010009
	SettingTimeoutSecs        uint32 = 60
	SettingAESKeyBits         uint32 = 128
	SettingFastEncryptKeyBits uint32 = 512
	SettingUnknownFlag1       uint32 = 1
	SettingUnknownFlag2       uint32 = 1
	SettingUnknown3           uint32 = 0x02000000
)

// Buffer sizes
const (
	DefaultReadBufSize = 8192
)
