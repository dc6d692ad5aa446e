package crypto

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/rag2go/internal/constants"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// FIPS-197 Appendix C.1
func TestECBCipher_KnownAnswer(t *testing.T) {
	key := mustHex(t, "000102030405060708090a0b0c0d0e0f")
	plain := mustHex(t, "00112233445566778899aabbccddeeff")
	want := mustHex(t, "69c4e0d86a7b0430d8cdb78070b4c55a")

	c, err := NewECBCipher(key)
	require.NoError(t, err)

	ct, err := c.Encrypt(plain)
	require.NoError(t, err)
	require.Len(t, ct, 32, "full padding block appended")
	assert.Equal(t, want, ct[:16])

	got, err := c.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestECBCipher_NoChaining(t *testing.T) {
	c, err := NewECBCipher(testSessionKey())
	require.NoError(t, err)

	block := make([]byte, constants.AESBlockSize)
	ct, err := c.Encrypt(append(block, block...))
	require.NoError(t, err)

	assert.Equal(t, ct[0:16], ct[16:32], "identical blocks must encrypt identically")
}

func TestBlockCipher_RoundTrip(t *testing.T) {
	sizes := []int{0, 1, 15, 16, 17, 32, 209, 1000}

	for _, mode := range []Mode{ModeAESECB, ModeChaCha20Poly1305} {
		c, err := NewBlockCipher(mode, testSessionKey())
		require.NoError(t, err)

		for _, size := range sizes {
			t.Run(fmt.Sprintf("%s/size=%d", mode, size), func(t *testing.T) {
				plain := make([]byte, size)
				for i := range plain {
					plain[i] = byte(i)
				}

				ct, err := c.Encrypt(plain)
				require.NoError(t, err)

				got, err := c.Decrypt(ct)
				require.NoError(t, err)
				assert.Equal(t, len(plain), len(got))
				if size > 0 {
					assert.Equal(t, plain, got)
				}
			})
		}
	}
}

func TestECBCipher_DecryptErrors(t *testing.T) {
	c, err := NewECBCipher(testSessionKey())
	require.NoError(t, err)

	t.Run("пустой ciphertext", func(t *testing.T) {
		_, err := c.Decrypt(nil)
		require.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("не кратно блоку", func(t *testing.T) {
		_, err := c.Decrypt(make([]byte, 17))
		require.ErrorIs(t, err, ErrInvalidLength)
	})

	t.Run("битый padding", func(t *testing.T) {
		// Шифруем блок без паддинга вручную: последний байт 0x00
		raw := make([]byte, 16)
		c.block.Encrypt(raw, raw)
		_, err := c.Decrypt(raw)
		require.ErrorIs(t, err, ErrInvalidPadding)
	})

	t.Run("непоследовательный padding", func(t *testing.T) {
		raw := make([]byte, 16)
		raw[15] = 0x03
		raw[14] = 0x03
		raw[13] = 0x07
		c.block.Encrypt(raw, raw)
		_, err := c.Decrypt(raw)
		require.ErrorIs(t, err, ErrInvalidPadding)
	})
}

func TestNewECBCipher_BadKey(t *testing.T) {
	_, err := NewECBCipher([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestAEADCipher_Tamper(t *testing.T) {
	c, err := NewAEADCipher(testSessionKey())
	require.NoError(t, err)

	ct, err := c.Encrypt([]byte("hello"))
	require.NoError(t, err)

	ct[len(ct)-1] ^= 0xFF
	_, err = c.Decrypt(ct)
	require.ErrorIs(t, err, ErrAuthFailed)

	_, err = c.Decrypt(ct[:10])
	require.ErrorIs(t, err, ErrInvalidLength)
}

func TestAEADCipher_DifferentKeys(t *testing.T) {
	a, err := NewAEADCipher(testSessionKey())
	require.NoError(t, err)
	other := testSessionKey()
	other[0] ^= 1
	b, err := NewAEADCipher(other)
	require.NoError(t, err)

	ct, err := a.Encrypt([]byte("payload"))
	require.NoError(t, err)
	_, err = b.Decrypt(ct)
	require.Error(t, err)
}

func TestBlockCipher_Zeroize(t *testing.T) {
	for _, mode := range []Mode{ModeAESECB, ModeChaCha20Poly1305} {
		t.Run(string(mode), func(t *testing.T) {
			c, err := NewBlockCipher(mode, testSessionKey())
			require.NoError(t, err)

			c.Zeroize()
			c.Zeroize() // повторный вызов безопасен

			_, err = c.Encrypt([]byte{1})
			require.Error(t, err)
			_, err = c.Decrypt(make([]byte, 64))
			require.Error(t, err)
		})
	}
}

func TestECBCipher_ZeroizeWipesKey(t *testing.T) {
	c, err := NewECBCipher(testSessionKey())
	require.NoError(t, err)
	c.Zeroize()
	assert.Equal(t, make([]byte, constants.SessionKeySize), c.key)
}

func TestNewBlockCipher_UnknownMode(t *testing.T) {
	_, err := NewBlockCipher("des", testSessionKey())
	require.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("aes-ecb")
	require.NoError(t, err)
	assert.Equal(t, ModeAESECB, m)

	m, err = ParseMode("chacha20-poly1305")
	require.NoError(t, err)
	assert.Equal(t, ModeChaCha20Poly1305, m)

	_, err = ParseMode("rot13")
	require.Error(t, err)
}
