package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var errZeroized = errors.New("cipher key zeroized")

// aeadInfo binds derived keys to this channel construction.
const aeadInfo = "rag2go secure channel v1"

// AEADCipher seals each envelope with XChaCha20-Poly1305.
// The 32-byte key is derived from the session key with HKDF-SHA256.
// Output layout: [nonce 24][ciphertext+tag].
type AEADCipher struct {
	mu   sync.RWMutex
	key  []byte
	aead cipher.AEAD
}

// NewAEADCipher derives the channel key from sessionKey.
func NewAEADCipher(sessionKey []byte) (*AEADCipher, error) {
	if len(sessionKey) == 0 {
		return nil, errors.New("empty session key")
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sessionKey, nil, []byte(aeadInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving channel key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		Zeroize(key)
		return nil, fmt.Errorf("creating XChaCha20-Poly1305: %w", err)
	}
	return &AEADCipher{key: key, aead: aead}, nil
}

// Encrypt seals plaintext under a random nonce.
func (c *AEADCipher) Encrypt(plaintext []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.aead == nil {
		return nil, fmt.Errorf("aead encrypt: %w", errZeroized)
	}

	ns := c.aead.NonceSize()
	out := make([]byte, ns, ns+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("aead nonce: %w", err)
	}
	return c.aead.Seal(out, out[:ns], plaintext, nil), nil
}

// Decrypt opens a sealed envelope.
func (c *AEADCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.aead == nil {
		return nil, fmt.Errorf("aead decrypt: %w", errZeroized)
	}

	ns := c.aead.NonceSize()
	if len(ciphertext) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("aead decrypt: %w: %d bytes", ErrInvalidLength, len(ciphertext))
	}

	plain, err := c.aead.Open(nil, ciphertext[:ns], ciphertext[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("aead decrypt: %w", ErrAuthFailed)
	}
	return plain, nil
}

// Zeroize wipes the derived key.
func (c *AEADCipher) Zeroize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	Zeroize(c.key)
	c.aead = nil
}
