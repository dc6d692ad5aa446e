package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"sync"
)

// ECBCipher encrypts each 16-byte block independently with PKCS#7 padding.
type ECBCipher struct {
	mu    sync.RWMutex
	key   []byte
	block cipher.Block
}

// NewECBCipher creates an AES-ECB cipher. key must be 16, 24 or 32 bytes.
func NewECBCipher(key []byte) (*ECBCipher, error) {
	k := make([]byte, len(key))
	copy(k, key)

	block, err := aes.NewCipher(k)
	if err != nil {
		Zeroize(k)
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	return &ECBCipher{key: k, block: block}, nil
}

// Encrypt pads plaintext with PKCS#7 and encrypts it block by block.
// The output is always at least one block.
func (c *ECBCipher) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.block == nil {
		return nil, fmt.Errorf("aes-ecb encrypt: %w", errZeroized)
	}

	bs := c.block.BlockSize()
	pad := bs - len(plaintext)%bs
	out := make([]byte, len(plaintext)+pad)
	copy(out, plaintext)
	for i := len(plaintext); i < len(out); i++ {
		out[i] = byte(pad)
	}

	for i := 0; i < len(out); i += bs {
		c.block.Encrypt(out[i:i+bs], out[i:i+bs])
	}
	return out, nil
}

// Decrypt decrypts ciphertext and strips PKCS#7 padding.
// Empty or non block-aligned input and malformed padding are rejected.
func (c *ECBCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.block == nil {
		return nil, fmt.Errorf("aes-ecb decrypt: %w", errZeroized)
	}

	bs := c.block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%bs != 0 {
		return nil, fmt.Errorf("aes-ecb decrypt: %w: %d bytes", ErrInvalidLength, len(ciphertext))
	}

	out := make([]byte, len(ciphertext))
	for i := 0; i < len(out); i += bs {
		c.block.Decrypt(out[i:i+bs], ciphertext[i:i+bs])
	}

	pad := int(out[len(out)-1])
	if pad == 0 || pad > bs {
		return nil, fmt.Errorf("aes-ecb decrypt: %w: pad byte %d", ErrInvalidPadding, pad)
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("aes-ecb decrypt: %w", ErrInvalidPadding)
		}
	}
	return out[:len(out)-pad], nil
}

// Zeroize wipes the key copy and drops the expanded key schedule.
func (c *ECBCipher) Zeroize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	Zeroize(c.key)
	c.block = nil
}
