package capture

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/rag2go/internal/channel"
	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/crypto"
	"github.com/udisondev/rag2go/internal/handshake"
	"github.com/udisondev/rag2go/internal/protocol"
	"github.com/udisondev/rag2go/internal/rmi"
)

var sessionKey = []byte{
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10,
}

// buildCapture записывает handshake и одно зашифрованное сообщение в текстовом формате.
func buildCapture(t *testing.T, kp *crypto.KeyPair) string {
	t.Helper()

	neg := handshake.New(kp, handshake.Options{Settings: handshake.DefaultSettings(), HostID: 3, ClientIP: "10.0.0.2"})
	hello, err := neg.Hello()
	require.NoError(t, err)

	pub, err := crypto.ParsePublicKeyDER(kp.PublicKeyDER())
	require.NoError(t, err)
	blob, err := crypto.EncryptSessionKey(pub, sessionKey)
	require.NoError(t, err)
	keyResponse, err := handshake.BuildKeyResponse(blob)
	require.NoError(t, err)

	bc, err := crypto.NewBlockCipher(crypto.ModeAESECB, sessionKey)
	require.NoError(t, err)
	ch := channel.New(bc, channel.Options{})
	env, err := ch.Seal(append([]byte{0xE2, 0x2E}, []byte("hi")...))
	require.NoError(t, err)
	message := protocol.Encode(env)

	var b strings.Builder
	fmt.Fprintf(&b, "# captured session\n")
	fmt.Fprintf(&b, "S %s\n", hex.EncodeToString(hello))
	fmt.Fprintf(&b, "C %s\n", hex.EncodeToString(protocol.Encode(keyResponse)))
	fmt.Fprintf(&b, "S %s\n", hex.EncodeToString(protocol.Encode([]byte{constants.OpcodeHandshakeAck})))
	// сообщение разбито на два TCP сегмента
	fmt.Fprintf(&b, "c %s\n", hex.EncodeToString(message[:5]))
	fmt.Fprintf(&b, "\n")
	fmt.Fprintf(&b, "C %s\n", hex.EncodeToString(message[5:]))
	fmt.Fprintf(&b, "S %s\n", hex.EncodeToString(protocol.Encode(protocol.BuildHeartbeatAck(9))))
	return b.String()
}

func TestDecoder_LearnsKeyFromHandshake(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(constants.RSAKeyBits)
	require.NoError(t, err)

	d, err := NewDecoder(Options{ServerKey: kp})
	require.NoError(t, err)

	recs, err := d.ReadAll(strings.NewReader(buildCapture(t, kp)))
	require.NoError(t, err)
	require.Len(t, recs, 5)

	assert.Equal(t, "Handshake", recs[0].Name())
	assert.Equal(t, ServerToClient, recs[0].Direction)

	assert.Equal(t, "KeyResponse", recs[1].Name())
	assert.Equal(t, "session key "+hex.EncodeToString(sessionKey), recs[1].Note)

	assert.Equal(t, "HandshakeAck", recs[2].Name())

	assert.True(t, recs[3].HasApp)
	assert.Equal(t, rmi.OpReqLogin, recs[3].AppOpcode)
	assert.Equal(t, "ReqLogin", recs[3].Name())
	assert.Equal(t, 1, recs[3].Depth)
	assert.Equal(t, []byte("hi"), recs[3].Body)

	assert.Equal(t, "HeartbeatAck", recs[4].Name())
	assert.Equal(t, "seq 9", recs[4].Note)
}

func TestDecoder_WithoutKey(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(constants.RSAKeyBits)
	require.NoError(t, err)

	d, err := NewDecoder(Options{})
	require.NoError(t, err)

	recs, err := d.ReadAll(strings.NewReader(buildCapture(t, kp)))
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.False(t, recs[3].HasApp)
	assert.Equal(t, "encrypted (no session key)", recs[3].Note)
}

func TestDecoder_ExplicitSessionKeyAndNesting(t *testing.T) {
	d, err := NewDecoder(Options{SessionKey: sessionKey, MaxDepth: 2})
	require.NoError(t, err)

	bc, err := crypto.NewBlockCipher(crypto.ModeAESECB, sessionKey)
	require.NoError(t, err)
	ch := channel.New(bc, channel.Options{})

	inner, err := ch.Seal([]byte{0x00, 0x10, 0xAA})
	require.NoError(t, err)
	outer, err := ch.Seal(protocol.Encode(inner))
	require.NoError(t, err)
	tooDeep, err := ch.Seal(protocol.Encode(outer))
	require.NoError(t, err)

	recs, err := d.Feed(ClientToServer, protocol.Encode(outer))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 2, recs[0].Depth)
	assert.Equal(t, uint16(0x1000), recs[0].AppOpcode)
	assert.Equal(t, "NfyServerTime", recs[0].Name())

	recs, err = d.Feed(ClientToServer, protocol.Encode(tooDeep))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "nesting exceeds 2", recs[0].Note)
}

func TestDecoder_FlashPolicy(t *testing.T) {
	d, err := NewDecoder(Options{})
	require.NoError(t, err)

	recs, err := d.Feed(ServerToClient, []byte(constants.FlashPolicyXML))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "PolicyRequest", recs[0].Name())
}

func TestDecoder_Errors(t *testing.T) {
	tests := []struct {
		name    string
		capture string
	}{
		{"неверное направление", "X 135701011c\n"},
		{"не hex", "C zz\n"},
		{"неверная magic", "C 1458\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDecoder(Options{})
			require.NoError(t, err)
			_, err = d.ReadAll(strings.NewReader(tt.capture))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "line 1")
		})
	}
}

func TestDecoder_WhitespaceInsideHex(t *testing.T) {
	d, err := NewDecoder(Options{})
	require.NoError(t, err)

	recs, err := d.ReadAll(bytes.NewBufferString("C 13 57 01 03 1b 05 00\n"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Heartbeat", recs[0].Name())
	assert.Equal(t, "seq 5", recs[0].Note)
}
