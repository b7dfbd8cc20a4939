// Package envelope seals and opens individual chunks under a per-object
// symmetric key, and optionally compresses them first.
//
// Sealed blobs are laid out as nonce ∥ ciphertext, where the ciphertext
// carries the Poly1305 tag. The chunk index is bound as additional data so a
// blob cannot be replayed at a different position of the same object.
package envelope

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"

	"shardvault/internal/digest"

	"golang.org/x/crypto/chacha20poly1305"
	"lukechampine.com/frand"
)

// Name is recorded in manifests to identify the AEAD construction.
const Name = "xchacha20poly1305"

const (
	// KeySize is the size of a per-object key.
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the size of the nonce prefix of every sealed blob.
	NonceSize = chacha20poly1305.NonceSizeX

	// Overhead is the number of bytes Seal adds to a plaintext.
	Overhead = NonceSize + chacha20poly1305.Overhead
)

const (
	convergentKeyContext = "shardvault 2024-06 convergent object key"
	nonceDomain          = "nonce"
)

var (
	// ErrShortBlob is returned by Open when the blob cannot even hold a
	// nonce and tag.
	ErrShortBlob = errors.New("envelope: blob too short")

	// ErrAuthentication is returned by Open when the blob fails AEAD
	// verification under the key and index.
	ErrAuthentication = errors.New("envelope: message authentication failed")
)

// KeyMode selects how per-object keys and per-chunk nonces are produced.
type KeyMode string

const (
	// KeyConvergent derives the key from the payload and each nonce from
	// the key and chunk index, so identical payloads seal identically.
	KeyConvergent KeyMode = "convergent"

	// KeyRandom draws a fresh key per object and a fresh nonce per chunk.
	KeyRandom KeyMode = "random"
)

// ParseKeyMode validates a key mode name.
func ParseKeyMode(name string) (KeyMode, error) {
	switch KeyMode(name) {
	case KeyConvergent, KeyRandom:
		return KeyMode(name), nil
	default:
		return "", fmt.Errorf("unknown key mode %q", name)
	}
}

// NewKey returns a uniformly random per-object key.
func NewKey() []byte {
	return frand.Bytes(KeySize)
}

// DeriveKey derives the convergent per-object key for payload stored under
// lane. The lane is length-prefixed so no two (lane, payload) pairs share an
// input, and equal payloads in different lanes get unrelated keys.
func DeriveKey(lane string, payload []byte) []byte {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], uint64(len(lane)))
	key := digest.Derive(convergentKeyContext, prefix[:], []byte(lane), payload)
	return key[:]
}

// KeyFor returns the per-object key for payload stored under lane.
func KeyFor(mode KeyMode, lane string, payload []byte) []byte {
	if mode == KeyRandom {
		return NewKey()
	}
	return DeriveKey(lane, payload)
}

// Cipher seals and opens the chunks of one object.
type Cipher struct {
	aead cipher.AEAD
	key  []byte
	mode KeyMode
}

// New creates a Cipher for key. The mode only affects how Seal chooses
// nonces; Open reads the nonce from the blob either way.
func New(key []byte, mode KeyMode) (*Cipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return &Cipher{aead: aead, key: key, mode: mode}, nil
}

func indexBytes(index uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return buf[:]
}

func (c *Cipher) nonce(index uint64) ([]byte, error) {
	if c.mode == KeyRandom {
		return frand.Bytes(NonceSize), nil
	}

	sum, err := digest.Keyed(c.key, []byte(nonceDomain), indexBytes(index))
	if err != nil {
		return nil, err
	}
	return sum[:NonceSize], nil
}

// Seal encrypts the plaintext of chunk index and returns nonce ∥ ciphertext.
func (c *Cipher) Seal(index uint64, plaintext []byte) ([]byte, error) {
	nonce, err := c.nonce(index)
	if err != nil {
		return nil, fmt.Errorf("derive nonce: %w", err)
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+c.aead.Overhead())
	copy(out, nonce)
	return c.aead.Seal(out, nonce, plaintext, indexBytes(index)), nil
}

// Open verifies and decrypts a blob produced by Seal for chunk index.
func (c *Cipher) Open(index uint64, blob []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortBlob, len(blob))
	}

	nonce, ciphertext := blob[:NonceSize], blob[NonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, indexBytes(index))
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d", ErrAuthentication, index)
	}
	return plaintext, nil
}
