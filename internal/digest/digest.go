// Package digest provides the 32-byte BLAKE3 content address used for
// shard keys, manifest self-hashes and receipts.
package digest

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Size is the length in bytes of a Hash.
const Size = 32

// Hash is a BLAKE3-256 digest.
type Hash [Size]byte

// Sum hashes the concatenation of parts.
func Sum(parts ...[]byte) Hash {
	hasher := blake3.New()
	for _, part := range parts {
		_, _ = hasher.Write(part)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// Keyed computes a keyed BLAKE3 hash of the concatenation of parts. The key
// must be exactly 32 bytes.
func Keyed(key []byte, parts ...[]byte) (Hash, error) {
	hasher, err := blake3.NewKeyed(key)
	if err != nil {
		return Hash{}, fmt.Errorf("keyed blake3: %w", err)
	}
	for _, part := range parts {
		_, _ = hasher.Write(part)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h, nil
}

// Derive derives a 32-byte key from the concatenation of parts under the
// given context string.
func Derive(context string, parts ...[]byte) Hash {
	hasher := blake3.NewDeriveKey(context)
	for _, part := range parts {
		_, _ = hasher.Write(part)
	}
	var h Hash
	copy(h[:], hasher.Sum(nil))
	return h
}

// Parse decodes a lowercase or uppercase hex string into a Hash.
func Parse(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(Size) {
		return h, fmt.Errorf("invalid hash length: %d", len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	return h, nil
}

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is all zero bytes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// MarshalText implements encoding.TextMarshaler so hashes render as hex in
// JSON responses.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
