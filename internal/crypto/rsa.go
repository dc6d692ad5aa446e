package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/udisondev/rag2go/internal/constants"
)

// ErrSessionKeyTooShort is returned when the decrypted blob is shorter than the requested key.
var ErrSessionKeyTooShort = errors.New("decrypted session key too short")

// KeyPair holds the server RSA key and its cached PKCS#1 DER public key.
// Safe for concurrent use: all methods are read-only after construction.
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	publicDER  []byte
}

// GenerateKeyPair generates an RSA key pair with exponent 65537 (F4).
func GenerateKeyPair(bits int) (*KeyPair, error) {
	if bits < constants.RSAMinKeyBits {
		return nil, fmt.Errorf("RSA key size %d below minimum %d", bits, constants.RSAMinKeyBits)
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating RSA key: %w", err)
	}
	return NewKeyPair(privateKey)
}

// NewKeyPair wraps an existing private key.
func NewKeyPair(privateKey *rsa.PrivateKey) (*KeyPair, error) {
	if privateKey == nil {
		return nil, errors.New("nil RSA private key")
	}
	if bits := privateKey.N.BitLen(); bits < constants.RSAMinKeyBits {
		return nil, fmt.Errorf("RSA key size %d below minimum %d", bits, constants.RSAMinKeyBits)
	}
	privateKey.Precompute()

	return &KeyPair{
		PrivateKey: privateKey,
		publicDER:  x509.MarshalPKCS1PublicKey(&privateKey.PublicKey),
	}, nil
}

// LoadKeyPair reads a PEM file holding a PKCS#1 ("RSA PRIVATE KEY") or PKCS#8 ("PRIVATE KEY") key.
func LoadKeyPair(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading RSA key file: %w", err)
	}
	return ParseKeyPairPEM(data)
}

// ParseKeyPairPEM parses a PEM-encoded RSA private key.
func ParseKeyPairPEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#1 key: %w", err)
		}
		return NewKeyPair(key)
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing PKCS#8 key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key is %T, want RSA", parsed)
		}
		return NewKeyPair(key)
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// MarshalPEM encodes the private key as PKCS#1 PEM.
func (kp *KeyPair) MarshalPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.PrivateKey),
	})
}

// PublicKeyDER returns the PKCS#1 DER public key sent in the handshake frame.
// The slice is shared; callers must not modify it.
func (kp *KeyPair) PublicKeyDER() []byte {
	return kp.publicDER
}

// Bits returns the modulus size.
func (kp *KeyPair) Bits() int {
	return kp.PrivateKey.N.BitLen()
}

// DecryptSessionKey decrypts the client's key blob and returns the first size bytes.
//
// The reference client pads with OAEP-SHA1; PKCS#1 v1.5 and OAEP-SHA256 are
// tried next for clients that behave differently.
func (kp *KeyPair) DecryptSessionKey(blob []byte, size int) ([]byte, error) {
	plain, err := rsa.DecryptOAEP(sha1.New(), nil, kp.PrivateKey, blob, nil)
	if err != nil {
		plain, err = rsa.DecryptPKCS1v15(nil, kp.PrivateKey, blob)
	}
	if err != nil {
		plain, err = rsa.DecryptOAEP(sha256.New(), nil, kp.PrivateKey, blob, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("RSA decrypt session key (%d bytes): %w", len(blob), err)
	}

	if len(plain) < size {
		Zeroize(plain)
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSessionKeyTooShort, len(plain), size)
	}

	key := make([]byte, size)
	copy(key, plain)
	Zeroize(plain)
	return key, nil
}

// ParsePublicKeyDER parses the PKCS#1 DER public key from a handshake frame.
func ParsePublicKeyDER(der []byte) (*rsa.PublicKey, error) {
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#1 public key: %w", err)
	}
	return pub, nil
}

// EncryptSessionKey encrypts key the way the reference client does (OAEP-SHA1).
func EncryptSessionKey(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	blob, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("RSA encrypt session key: %w", err)
	}
	return blob, nil
}

// EncryptSessionKeyPKCS1v15 encrypts key with PKCS#1 v1.5 padding.
func EncryptSessionKeyPKCS1v15(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	blob, err := rsa.EncryptPKCS1v15(rand.Reader, pub, key)
	if err != nil {
		return nil, fmt.Errorf("RSA encrypt session key: %w", err)
	}
	return blob, nil
}
