package channel

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/rag2go/internal/constants"
	"github.com/udisondev/rag2go/internal/crypto"
	"github.com/udisondev/rag2go/internal/protocol"
)

var testKey = []byte{
	0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17,
	0x18, 0x19, 0x1A, 0x1B, 0x1C, 0x1D, 0x1E, 0x1F,
}

func newChannel(t *testing.T, mode crypto.Mode, opts Options) *Channel {
	t.Helper()
	c, err := crypto.NewBlockCipher(mode, testKey)
	require.NoError(t, err)
	return New(c, opts)
}

func TestChannel_SealOpen(t *testing.T) {
	sizes := []int{0, 1, 16, 31, 209, 4096}

	for _, mode := range []crypto.Mode{crypto.ModeAESECB, crypto.ModeChaCha20Poly1305} {
		for _, size := range sizes {
			t.Run(fmt.Sprintf("%s/size=%d", mode, size), func(t *testing.T) {
				ch := newChannel(t, mode, Options{})
				plain := bytes.Repeat([]byte{0xC3}, size)

				env, err := ch.Seal(plain)
				require.NoError(t, err)
				assert.Equal(t, constants.OpcodeEncrypted, env[0])
				assert.Equal(t, constants.EnvelopeFlagEncrypted, env[1])

				got, err := ch.Open(env)
				require.NoError(t, err)
				assert.Equal(t, len(plain), len(got))
				assert.True(t, bytes.Equal(plain, got))
			})
		}
	}
}

func TestChannel_SealLayout(t *testing.T) {
	ch := newChannel(t, crypto.ModeAESECB, Options{})

	// 26-байтовый 0x0000 → 32 байта ciphertext → заголовок 25 01 01 20
	env, err := ch.Seal(make([]byte, 26))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x25, 0x01, 0x01, 0x20}, env[:4])
	assert.Len(t, env, 4+32)
}

func TestChannel_AltOpcodeAccepted(t *testing.T) {
	ch := newChannel(t, crypto.ModeAESECB, Options{})

	env, err := ch.Seal([]byte{0xE2, 0x2E, 0x01})
	require.NoError(t, err)
	env[0] = constants.OpcodeEncryptedAlt

	got, err := ch.Open(env)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xE2, 0x2E, 0x01}, got)
}

func TestChannel_Compression(t *testing.T) {
	ch := newChannel(t, crypto.ModeAESECB, Options{CompressionThreshold: 64})
	plain := bytes.Repeat([]byte("compressible "), 100)

	env, err := ch.Seal(plain)
	require.NoError(t, err)
	assert.Equal(t, constants.EnvelopeFlagEncryptedCompressed, env[1])
	assert.Less(t, len(env), len(plain))

	got, err := ch.Open(env)
	require.NoError(t, err)
	assert.Equal(t, plain, got)

	// ниже порога сжатия нет
	env, err = ch.Seal([]byte("short"))
	require.NoError(t, err)
	assert.Equal(t, constants.EnvelopeFlagEncrypted, env[1])
}

func TestChannel_InflateBounded(t *testing.T) {
	sender := newChannel(t, crypto.ModeAESECB, Options{CompressionThreshold: 1})
	receiver := newChannel(t, crypto.ModeAESECB, Options{MaxPlaintextSize: 1024})

	env, err := sender.Seal(make([]byte, 4096))
	require.NoError(t, err)

	_, err = receiver.Open(env)
	require.ErrorIs(t, err, protocol.ErrCrypto)
}

func TestChannel_OpenErrors(t *testing.T) {
	ch := newChannel(t, crypto.ModeAESECB, Options{})
	valid, err := ch.Seal([]byte{0x00, 0x00, 0x01})
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
		wantErr error
	}{
		{"пустой payload", nil, protocol.ErrProtocolViolation},
		{"не envelope", []byte{0x1B, 0x01, 0x00}, protocol.ErrProtocolViolation},
		{"нет флага", []byte{0x25}, protocol.ErrProtocolViolation},
		{"неизвестный флаг", []byte{0x25, 0x07, 0x01, 0x00}, protocol.ErrProtocolViolation},
		{"неверный size class", []byte{0x25, 0x01, 0x03, 0x10}, protocol.ErrProtocolViolation},
		{"обрезанный ciphertext", valid[:len(valid)-1], protocol.ErrProtocolViolation},
		{"хвост после ciphertext", append(bytes.Clone(valid), 0x00), protocol.ErrProtocolViolation},
		{"не кратно блоку", []byte{0x25, 0x01, 0x01, 0x03, 1, 2, 3}, protocol.ErrCrypto},
		{"нулевая длина", []byte{0x25, 0x01, 0x01, 0x00}, protocol.ErrCrypto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ch.Open(tt.payload)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, protocol.IsFatal(err))
		})
	}
}

func TestChannel_WrongKey(t *testing.T) {
	sender := newChannel(t, crypto.ModeAESECB, Options{})
	other := bytes.Clone(testKey)
	other[15] ^= 0xFF
	c, err := crypto.NewECBCipher(other)
	require.NoError(t, err)
	receiver := New(c, Options{})

	for i := range 8 {
		env, err := sender.Seal(bytes.Repeat([]byte{byte(i)}, 40))
		require.NoError(t, err)

		got, err := receiver.Open(env)
		if err == nil {
			// ECB без аутентификации: паддинг может случайно сойтись
			assert.NotEqual(t, bytes.Repeat([]byte{byte(i)}, 40), got)
			continue
		}
		require.ErrorIs(t, err, protocol.ErrCrypto)
	}
}

func TestChannel_Close(t *testing.T) {
	ch := newChannel(t, crypto.ModeAESECB, Options{})
	env, err := ch.Seal([]byte{1, 2, 3})
	require.NoError(t, err)

	ch.Close()
	ch.Close()

	_, err = ch.Seal([]byte{1})
	require.Error(t, err)
	_, err = ch.Open(env)
	require.Error(t, err)
}

func TestIsEnvelope(t *testing.T) {
	assert.True(t, IsEnvelope(0x25))
	assert.True(t, IsEnvelope(0x26))
	assert.False(t, IsEnvelope(0x1B))
	assert.False(t, IsEnvelope(0x04))
}
