package crypto

import (
	"errors"
	"fmt"
)

// Mode names a symmetric channel cipher.
type Mode string

const (
	// ModeAESECB is AES-128 without chaining plus PKCS#7, as the reference client expects.
	ModeAESECB Mode = "aes-ecb"
	// ModeChaCha20Poly1305 is an authenticated replacement for deployments
	// that no longer need compatibility with the reference client.
	ModeChaCha20Poly1305 Mode = "chacha20-poly1305"
)

var (
	ErrInvalidLength  = errors.New("invalid ciphertext length")
	ErrInvalidPadding = errors.New("invalid padding")
	ErrAuthFailed     = errors.New("message authentication failed")
)

// BlockCipher is the narrow interface SecureChannel encrypts through.
// Implementations must be safe for concurrent Encrypt and Decrypt calls.
type BlockCipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	// Zeroize wipes key material. The cipher is unusable afterwards.
	Zeroize()
}

// NewBlockCipher builds the cipher for mode keyed with the negotiated session key.
func NewBlockCipher(mode Mode, key []byte) (BlockCipher, error) {
	switch mode {
	case ModeAESECB, "":
		return NewECBCipher(key)
	case ModeChaCha20Poly1305:
		return NewAEADCipher(key)
	default:
		return nil, fmt.Errorf("unknown cipher mode %q", mode)
	}
}

// ParseMode validates a configured mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAESECB, ModeChaCha20Poly1305:
		return m, nil
	default:
		return "", fmt.Errorf("unknown cipher mode %q", s)
	}
}

// Zeroize overwrites b with zeros.
func Zeroize(b []byte) {
	clear(b)
}
