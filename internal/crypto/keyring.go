package crypto

import (
	"errors"
	"fmt"
	mathrand "math/rand/v2"
)

// KeyRing is the process-wide RSA key material handed to every handshake.
// Built once at startup and never mutated.
type KeyRing struct {
	keys []*KeyPair
}

// NewKeyRing creates a ring from already generated or loaded keys.
func NewKeyRing(keys ...*KeyPair) (*KeyRing, error) {
	if len(keys) == 0 {
		return nil, errors.New("key ring needs at least one key")
	}
	for i, k := range keys {
		if k == nil {
			return nil, fmt.Errorf("key ring: nil key at %d", i)
		}
	}
	return &KeyRing{keys: keys}, nil
}

// GenerateKeyRing generates count keys of the given size.
func GenerateKeyRing(count, bits int) (*KeyRing, error) {
	if count <= 0 {
		count = 1
	}

	keys := make([]*KeyPair, count)
	for i := range count {
		kp, err := GenerateKeyPair(bits)
		if err != nil {
			return nil, fmt.Errorf("generating RSA key pair %d: %w", i, err)
		}
		keys[i] = kp
	}
	return &KeyRing{keys: keys}, nil
}

// Pick returns a key for one handshake. A single-key ring always returns the same key,
// which matches clients that cache the server key.
func (r *KeyRing) Pick() *KeyPair {
	if len(r.keys) == 1 {
		return r.keys[0]
	}
	return r.keys[mathrand.IntN(len(r.keys))]
}

// Len returns the number of keys in the ring.
func (r *KeyRing) Len() int {
	return len(r.keys)
}
