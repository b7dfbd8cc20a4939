// Package manifest defines the content-addressed description of a stored
// object and the receipt issued for it.
//
// A manifest's Hash is a fixed point: it is the BLAKE3 digest of the
// manifest's deterministic CBOR encoding taken while Hash is all zeros.
// Finalize computes it once and the manifest is never mutated afterwards.
package manifest

import (
	"bytes"
	"errors"
	"fmt"

	"shardvault/internal/codec"
	"shardvault/internal/digest"
	"shardvault/internal/erasure"
)

// Version is written into every new manifest.
const Version = 1

var (
	// ErrCorrupt is returned when persisted bytes do not decode to a
	// consistent manifest or receipt.
	ErrCorrupt = errors.New("manifest: corrupt")

	// ErrFinalized is returned when a Builder is used after Finalize.
	ErrFinalized = errors.New("manifest: already finalized")
)

// ChunkRef identifies one stored shard and the providers holding it.
type ChunkRef struct {
	ID        digest.Hash `cbor:"id" json:"id"`
	Providers []string    `cbor:"providers" json:"providers"`
}

// Manifest describes one stored object.
type Manifest struct {
	Version     int                `cbor:"version" json:"version"`
	TotalLen    uint64             `cbor:"total_len" json:"total_len"`
	ChunkLen    uint64             `cbor:"chunk_len" json:"chunk_len"`
	Chunks      []ChunkRef         `cbor:"chunks" json:"chunks"`
	Redundancy  erasure.Redundancy `cbor:"redundancy" json:"redundancy"`
	Key         []byte             `cbor:"key" json:"-"`
	Cipher      string             `cbor:"cipher" json:"cipher"`
	KeyMode     string             `cbor:"key_mode" json:"key_mode"`
	Compression string             `cbor:"compression" json:"compression"`
	Hash        digest.Hash        `cbor:"hash" json:"hash"`
}

// ChunkCount is the number of plaintext chunks, i.e. shard groups.
func (m *Manifest) ChunkCount() int {
	return len(m.Chunks) / m.Redundancy.Stride()
}

// Group returns the shard refs of plaintext chunk i.
func (m *Manifest) Group(i int) []ChunkRef {
	stride := m.Redundancy.Stride()
	return m.Chunks[i*stride : (i+1)*stride]
}

// ChunkPlainLen is the plaintext length of chunk i; only the last chunk may
// be shorter than ChunkLen.
func (m *Manifest) ChunkPlainLen(i int) uint64 {
	start := uint64(i) * m.ChunkLen
	if start >= m.TotalLen {
		return 0
	}
	return min(m.ChunkLen, m.TotalLen-start)
}

// Providers returns every provider referenced by the manifest, in first-use
// order.
func (m *Manifest) Providers() []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, ref := range m.Chunks {
		for _, p := range ref.Providers {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// selfHash encodes m with Hash zeroed and digests the result.
func (m Manifest) selfHash() (digest.Hash, error) {
	m.Hash = digest.Hash{}
	data, err := codec.Marshal(m)
	if err != nil {
		return digest.Hash{}, fmt.Errorf("encode manifest: %w", err)
	}
	return digest.Sum(data), nil
}

// Encode serializes a finalized manifest.
func (m *Manifest) Encode() ([]byte, error) {
	return codec.Marshal(m)
}

// Verify checks structural consistency and the self-hash fixed point.
func (m *Manifest) Verify() error {
	if m.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrCorrupt, m.Version)
	}
	if err := m.Redundancy.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if len(m.Chunks)%m.Redundancy.Stride() != 0 {
		return fmt.Errorf("%w: %d shard refs is not a multiple of stride %d", ErrCorrupt, len(m.Chunks), m.Redundancy.Stride())
	}

	var expected uint64
	if m.TotalLen > 0 {
		if m.ChunkLen == 0 {
			return fmt.Errorf("%w: zero chunk length for %d bytes", ErrCorrupt, m.TotalLen)
		}
		expected = m.TotalLen / m.ChunkLen
		if m.TotalLen%m.ChunkLen != 0 {
			expected++
		}
	}
	if uint64(m.ChunkCount()) != expected {
		return fmt.Errorf("%w: %d chunks for %d bytes at %d per chunk", ErrCorrupt, m.ChunkCount(), m.TotalLen, m.ChunkLen)
	}

	sum, err := m.selfHash()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if sum != m.Hash {
		return fmt.Errorf("%w: self-hash mismatch", ErrCorrupt)
	}
	return nil
}

// Decode parses and verifies persisted manifest bytes.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest
	if err := codec.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := m.Verify(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Builder accumulates a manifest during a write.
type Builder struct {
	m         Manifest
	finalized bool
}

// NewBuilder starts a manifest for an object of totalLen bytes split into
// chunks of chunkLen.
func NewBuilder(totalLen uint64, chunkLen uint64, redundancy erasure.Redundancy, key []byte) *Builder {
	return &Builder{
		m: Manifest{
			Version:     Version,
			TotalLen:    totalLen,
			ChunkLen:    chunkLen,
			Chunks:      make([]ChunkRef, 0),
			Redundancy:  redundancy,
			Key:         bytes.Clone(key),
			Compression: "none",
		},
	}
}

// WithCipher records the AEAD and key mode names.
func (b *Builder) WithCipher(name string, keyMode string) *Builder {
	b.m.Cipher = name
	b.m.KeyMode = keyMode
	return b
}

// WithCompression records the chunk compression name.
func (b *Builder) WithCompression(name string) *Builder {
	b.m.Compression = name
	return b
}

// Append adds the next shard ref in plaintext order.
func (b *Builder) Append(ref ChunkRef) {
	b.m.Chunks = append(b.m.Chunks, ref)
}

// Len is the number of shard refs appended so far.
func (b *Builder) Len() int {
	return len(b.m.Chunks)
}

// Finalize computes the self-hash and returns the closed manifest together
// with its encoding.
func (b *Builder) Finalize() (*Manifest, []byte, error) {
	if b.finalized {
		return nil, nil, ErrFinalized
	}

	sum, err := b.m.selfHash()
	if err != nil {
		return nil, nil, err
	}
	b.m.Hash = sum
	b.finalized = true

	m := b.m
	data, err := m.Encode()
	if err != nil {
		return nil, nil, fmt.Errorf("encode manifest: %w", err)
	}
	return &m, data, nil
}

// Summary is the listing view of a manifest.
type Summary struct {
	Hash        digest.Hash `json:"hash"`
	TotalLen    uint64      `json:"total_len"`
	ChunkLen    uint64      `json:"chunk_len"`
	ChunkCount  int         `json:"chunk_count"`
	Redundancy  string      `json:"redundancy"`
	Cipher      string      `json:"cipher"`
	Compression string      `json:"compression"`
}

func (m *Manifest) Summary() Summary {
	return Summary{
		Hash:        m.Hash,
		TotalLen:    m.TotalLen,
		ChunkLen:    m.ChunkLen,
		ChunkCount:  m.ChunkCount(),
		Redundancy:  m.Redundancy.String(),
		Cipher:      m.Cipher,
		Compression: m.Compression,
	}
}
