// Package erasure turns one sealed chunk blob into an ordered group of shards
// and back, using Reed-Solomon coding from klauspost/reedsolomon.
package erasure

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/klauspost/reedsolomon"
)

var (
	// ErrTooFewShards is returned by Reconstruct when a group holds fewer
	// than Data shards.
	ErrTooFewShards = errors.New("erasure: too few shards to reconstruct")

	// ErrInvalidShards is returned when the shard set does not match the
	// redundancy policy or the decoded frame is inconsistent.
	ErrInvalidShards = errors.New("erasure: invalid shard set")
)

// frameSize is the length prefix written ahead of the blob before it is
// split, so padding added by Split can be stripped exactly.
const frameSize = 4

// Redundancy describes how a chunk blob is protected. The zero value means no
// redundancy: one shard per chunk holding the blob verbatim.
type Redundancy struct {
	Data   int `cbor:"data" json:"data" yaml:"data"`
	Parity int `cbor:"parity" json:"parity" yaml:"parity"`
}

// None is the no-redundancy policy.
var None = Redundancy{}

// ReedSolomon returns a policy of data+parity shards per chunk.
func ReedSolomon(data int, parity int) Redundancy {
	return Redundancy{Data: data, Parity: parity}
}

// IsNone reports whether r is the no-redundancy policy.
func (r Redundancy) IsNone() bool {
	return r.Data == 0 && r.Parity == 0
}

// Stride is the number of shards produced per chunk.
func (r Redundancy) Stride() int {
	if r.IsNone() {
		return 1
	}
	return r.Data + r.Parity
}

// Required is the minimum number of shards needed to rebuild a chunk.
func (r Redundancy) Required() int {
	if r.IsNone() {
		return 1
	}
	return r.Data
}

// Validate checks the shard counts against what the coder supports.
func (r Redundancy) Validate() error {
	if r.IsNone() {
		return nil
	}
	if r.Data < 1 || r.Parity < 1 {
		return fmt.Errorf("reed-solomon needs at least one data and one parity shard, got %d+%d", r.Data, r.Parity)
	}
	if r.Data+r.Parity > 256 {
		return fmt.Errorf("reed-solomon supports at most 256 shards, got %d", r.Data+r.Parity)
	}
	return nil
}

func (r Redundancy) String() string {
	if r.IsNone() {
		return "none"
	}
	return fmt.Sprintf("rs:%d:%d", r.Data, r.Parity)
}

// ParseRedundancy accepts "none" or "rs:<data>:<parity>".
func ParseRedundancy(s string) (Redundancy, error) {
	if s == "" || s == "none" {
		return None, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[0] != "rs" {
		return None, fmt.Errorf("invalid redundancy %q, expected none or rs:<data>:<parity>", s)
	}

	data, err := strconv.Atoi(parts[1])
	if err != nil {
		return None, fmt.Errorf("invalid data shard count %q: %w", parts[1], err)
	}
	parity, err := strconv.Atoi(parts[2])
	if err != nil {
		return None, fmt.Errorf("invalid parity shard count %q: %w", parts[2], err)
	}

	r := ReedSolomon(data, parity)
	if err := r.Validate(); err != nil {
		return None, err
	}
	return r, nil
}

// Coder encodes and reconstructs shard groups for a single policy. It holds no
// per-call state.
type Coder struct {
	policy Redundancy
	enc    reedsolomon.Encoder
}

// New creates a Coder for policy.
func New(policy Redundancy) (*Coder, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	c := &Coder{policy: policy}
	if policy.IsNone() {
		return c, nil
	}

	enc, err := reedsolomon.New(policy.Data, policy.Parity)
	if err != nil {
		return nil, fmt.Errorf("create reed-solomon encoder: %w", err)
	}
	c.enc = enc
	return c, nil
}

// Policy returns the redundancy policy of c.
func (c *Coder) Policy() Redundancy {
	return c.policy
}

// Encode splits blob into Policy().Stride() shards.
func (c *Coder) Encode(blob []byte) ([][]byte, error) {
	if c.policy.IsNone() {
		return [][]byte{bytes.Clone(blob)}, nil
	}

	framed := make([]byte, frameSize, frameSize+len(blob))
	binary.BigEndian.PutUint32(framed, uint32(len(blob)))
	framed = append(framed, blob...)

	shards, err := c.enc.Split(framed)
	if err != nil {
		return nil, fmt.Errorf("split blob: %w", err)
	}

	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("encode parity: %w", err)
	}
	return shards, nil
}

// Reconstruct rebuilds the blob from a shard group. Missing shards must be
// present as nil entries so every shard keeps its position.
func (c *Coder) Reconstruct(shards [][]byte) ([]byte, error) {
	if len(shards) != c.policy.Stride() {
		return nil, fmt.Errorf("%w: got %d shards, expected %d", ErrInvalidShards, len(shards), c.policy.Stride())
	}

	present := 0
	for _, shard := range shards {
		if shard != nil {
			present++
		}
	}
	if present < c.policy.Required() {
		return nil, fmt.Errorf("%w: %d of %d present, need %d", ErrTooFewShards, present, len(shards), c.policy.Required())
	}

	if c.policy.IsNone() {
		return bytes.Clone(shards[0]), nil
	}

	work := make([][]byte, len(shards))
	copy(work, shards)

	if err := c.enc.ReconstructData(work); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShards, err)
	}

	framed := make([]byte, 0, len(work[0])*c.policy.Data)
	for _, shard := range work[:c.policy.Data] {
		framed = append(framed, shard...)
	}

	if len(framed) < frameSize {
		return nil, fmt.Errorf("%w: frame too short", ErrInvalidShards)
	}
	size := int(binary.BigEndian.Uint32(framed[:frameSize]))
	if size > len(framed)-frameSize {
		return nil, fmt.Errorf("%w: frame declares %d bytes, have %d", ErrInvalidShards, size, len(framed)-frameSize)
	}
	return framed[frameSize : frameSize+size], nil
}
