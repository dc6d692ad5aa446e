package handshake

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/protocol"
	"github.com/udisondev/rag2go/internal/protocol/packet"
)

// Settings are the ten u32 values sent ahead of the RSA key in 0x04.
// Only AESKeyBits (index 5) and FastEncryptKeyBits (index 6) have a confirmed meaning.
type Settings [constants.HandshakeSettingsCount]uint32

// DefaultSettings returns the values observed from the official server.
func DefaultSettings() Settings {
	return Settings{
		constants.SettingFlags,
		constants.SettingVersion,
		constants.SettingUnknown1,
		constants.SettingUnknown2,
		constants.SettingTimeoutSecs,
		constants.SettingAESKeyBits,
		constants.SettingFastEncryptKeyBits,
		constants.SettingUnknownFlag1,
		constants.SettingUnknownFlag2,
		constants.SettingUnknown3,
	}
}

// BuildHello builds the 0x04 payload:
//
//	[0x04][settings 10 × u32][der len u16][PKCS#1 DER]
func BuildHello(settings Settings, der []byte) ([]byte, error) {
	if len(der) > 0xFFFF {
		return nil, fmt.Errorf("DER public key too large: %d bytes", len(der))
	}

	w := packet.NewWriter(constants.HandshakeDEROffset + len(der))
	_ = w.WriteByte(constants.OpcodeHandshake)
	for _, v := range settings {
		w.WriteUint32(v)
	}
	w.WriteUint16(uint16(len(der)))
	w.WriteBytes(der)
	return w.Bytes(), nil
}

// ParseHello parses a 0x04 payload (client side).
func ParseHello(payload []byte) (Settings, []byte, error) {
	var s Settings

	r := packet.NewReader(payload)
	op, err := r.ReadByte()
	if err != nil || op != constants.OpcodeHandshake {
		return s, nil, protocol.Violation("expected handshake opcode, got % x", payload[:min(1, len(payload))])
	}
	for i := range s {
		if s[i], err = r.ReadUint32(); err != nil {
			return s, nil, protocol.Violation("handshake settings: %v", err)
		}
	}
	derLen, err := r.ReadUint16()
	if err != nil {
		return s, nil, protocol.Violation("handshake DER length: %v", err)
	}
	der, err := r.ReadBytes(int(derLen))
	if err != nil {
		return s, nil, protocol.Violation("handshake DER: %v", err)
	}
	return s, der, nil
}

// BuildKeyResponse builds the 0x05 payload (client side): [0x05][len class 2][RSA blob].
func BuildKeyResponse(blob []byte) ([]byte, error) {
	out := []byte{constants.OpcodeHandshakeResponse}
	out, err := protocol.AppendLengthClass(out, constants.SizeClass16, len(blob))
	if err != nil {
		return nil, err
	}
	return append(out, blob...), nil
}

// ParseKeyResponse extracts the RSA blob from a 0x05 payload.
// Bytes after the blob are returned as trailing; captures show them but their purpose is unknown.
func ParseKeyResponse(payload []byte) (blob []byte, trailing int, err error) {
	r := packet.NewReader(payload)
	op, err := r.ReadByte()
	if err != nil || op != constants.OpcodeHandshakeResponse {
		return nil, 0, protocol.Violation("expected key response opcode")
	}
	blob, err = r.ReadLengthPrefixed()
	if err != nil {
		return nil, 0, protocol.Violation("key response: %v", err)
	}
	if len(blob) == 0 {
		return nil, 0, protocol.Violation("key response without RSA blob")
	}
	return blob, r.Remaining(), nil
}

// VersionCheck is the parsed 0x07 message.
type VersionCheck struct {
	Version    uint16
	ClientGUID uuid.UUID
	// Flags are opaque trailing bytes.
	Flags []byte
}

// BuildVersionCheck builds the 0x07 payload (client side).
func BuildVersionCheck(vc VersionCheck) []byte {
	w := packet.NewWriter(constants.VersionCheckMinSize + len(vc.Flags))
	_ = w.WriteByte(constants.OpcodeVersionCheck)
	w.WriteUint16(vc.Version)
	w.WriteBytes(vc.ClientGUID[:])
	w.WriteBytes(vc.Flags)
	return w.Bytes()
}

// ParseVersionCheck parses a 0x07 payload:
//
//	[0x07][version u16][client GUID 16][flags ...]
func ParseVersionCheck(payload []byte) (VersionCheck, error) {
	var vc VersionCheck
	if len(payload) < constants.VersionCheckMinSize {
		return vc, protocol.Violation("version check too short: %d bytes", len(payload))
	}

	r := packet.NewReader(payload)
	if op, _ := r.ReadByte(); op != constants.OpcodeVersionCheck {
		return vc, protocol.Violation("expected version check opcode, got 0x%02x", op)
	}
	vc.Version, _ = r.ReadUint16()
	guid, _ := r.ReadBytes(constants.GUIDSize)
	copy(vc.ClientGUID[:], guid)
	if rest := r.Rest(); len(rest) > 0 {
		vc.Flags = append([]byte(nil), rest...)
	}
	return vc, nil
}

// ConnectionSuccess is the 0x0A message.
type ConnectionSuccess struct {
	HostID     uint32
	ServerGUID uuid.UUID
	ClientIP   string
}

// BuildConnectionSuccess builds the 0x0A payload:
//
//	[0x0A][host id u32][server GUID 16][01 00 01 01][ip len u8][ip][AC F6]
func BuildConnectionSuccess(cs ConnectionSuccess) ([]byte, error) {
	if len(cs.ClientIP) > 0xFF {
		return nil, fmt.Errorf("client IP too long: %d bytes", len(cs.ClientIP))
	}

	w := packet.NewWriter(32 + len(cs.ClientIP))
	_ = w.WriteByte(constants.OpcodeConnectionSuccess)
	w.WriteUint32(cs.HostID)
	w.WriteBytes(cs.ServerGUID[:])
	w.WriteBytes(constants.ConnectionSuccessFlags[:])
	_ = w.WriteByte(byte(len(cs.ClientIP)))
	w.WriteBytes([]byte(cs.ClientIP))
	w.WriteBytes(constants.ConnectionSuccessTrailer[:])
	return w.Bytes(), nil
}

// ParseConnectionSuccess parses a 0x0A payload (client side).
func ParseConnectionSuccess(payload []byte) (ConnectionSuccess, error) {
	var cs ConnectionSuccess

	r := packet.NewReader(payload)
	if op, err := r.ReadByte(); err != nil || op != constants.OpcodeConnectionSuccess {
		return cs, protocol.Violation("expected connection success opcode")
	}

	var err error
	if cs.HostID, err = r.ReadUint32(); err != nil {
		return cs, protocol.Violation("connection success: %v", err)
	}
	guid, err := r.ReadBytes(constants.GUIDSize)
	if err != nil {
		return cs, protocol.Violation("connection success: %v", err)
	}
	copy(cs.ServerGUID[:], guid)
	if err := r.Skip(len(constants.ConnectionSuccessFlags)); err != nil {
		return cs, protocol.Violation("connection success: %v", err)
	}
	ipLen, err := r.ReadByte()
	if err != nil {
		return cs, protocol.Violation("connection success: %v", err)
	}
	ip, err := r.ReadBytes(int(ipLen))
	if err != nil {
		return cs, protocol.Violation("connection success: %v", err)
	}
	cs.ClientIP = string(ip)
	return cs, nil
}
