package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// KeyEncoding says how a private key's material is encoded.
type KeyEncoding int

const (
	// KeyECDSAHex is a raw 32-byte secp256k1 key in hex, optionally 0x-prefixed.
	KeyECDSAHex KeyEncoding = iota
	// KeyDERHex is a DER-encoded key in hex (ED25519 or ECDSA).
	KeyDERHex
)

// PrivateKey is signing material for one account. It never prints its
// contents.
type PrivateKey struct {
	material string
	encoding KeyEncoding
}

// ParsePrivateKey accepts either a raw ECDSA hex key or a DER hex key.
func ParsePrivateKey(s string) (PrivateKey, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if raw == "" {
		return PrivateKey{}, fmt.Errorf("private key: empty")
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return PrivateKey{}, fmt.Errorf("private key: not hex: %w", err)
	}
	switch {
	case len(raw) == 64:
		return PrivateKey{material: strings.ToLower(raw), encoding: KeyECDSAHex}, nil
	case strings.HasPrefix(raw, "30") && len(raw) > 64:
		return PrivateKey{material: strings.ToLower(raw), encoding: KeyDERHex}, nil
	default:
		return PrivateKey{}, fmt.Errorf("private key: unrecognised length %d", len(raw))
	}
}

// MustParsePrivateKey panics on error. Intended for tests and fixtures.
func MustParsePrivateKey(s string) PrivateKey {
	k, err := ParsePrivateKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// Material returns the hex encoded key without prefix.
func (k PrivateKey) Material() string { return k.material }

// Encoding returns how Material is encoded.
func (k PrivateKey) Encoding() KeyEncoding { return k.encoding }

// IsZero reports whether no key was loaded.
func (k PrivateKey) IsZero() bool { return k.material == "" }

// Equal compares key material.
func (k PrivateKey) Equal(other PrivateKey) bool {
	return k.material == other.material
}

func (k PrivateKey) String() string {
	if k.IsZero() {
		return "<no key>"
	}
	return "<redacted>"
}

// GoString keeps %#v from leaking material.
func (k PrivateKey) GoString() string { return k.String() }

// Identity is an account together with the key that signs for it.
type Identity struct {
	Account AccountID
	Key     PrivateKey
}
