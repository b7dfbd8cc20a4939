package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"shardvault/internal/digest"
	"shardvault/internal/envelope"
	"shardvault/internal/erasure"
	"shardvault/internal/kv"
	"shardvault/internal/manifest"
)

// maxPrealloc caps the read buffer reserved up front from a manifest's
// declared length; larger objects grow the buffer as chunks arrive.
const maxPrealloc = 64 << 20

// Get reconstructs the object whose manifest hash is hash.
func (p *Pipeline) Get(ctx context.Context, hash digest.Hash) ([]byte, error) {
	start := time.Now()
	out, err := p.get(ctx, hash)
	p.metrics.ObserveGet(time.Since(start), len(out), err)
	if err != nil {
		slog.Warn("Object read failed", "manifest", hash, "error", err)
		return nil, err
	}

	slog.Debug("Read object", "manifest", hash, "bytes", len(out), "duration", time.Since(start))
	return out, nil
}

// Manifest returns the decoded manifest stored under hash.
func (p *Pipeline) Manifest(hash digest.Hash) (*manifest.Manifest, error) {
	if m, ok := p.cache.Get(hash); ok {
		return m, nil
	}

	data, err := p.db.Get(manifest.ManifestKey(hash))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load manifest %s: %w", ErrPersistenceFailure, hash, err)
	}

	m, err := manifest.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptManifest, hash, err)
	}
	if m.Hash != hash {
		return nil, fmt.Errorf("%w: %s is stored under %s", ErrCorruptManifest, m.Hash, hash)
	}

	p.cache.Add(hash, m)
	return m, nil
}

func (p *Pipeline) coderFor(r erasure.Redundancy) (*erasure.Coder, error) {
	if r == p.redundancy {
		return p.coder, nil
	}
	return erasure.New(r)
}

func (p *Pipeline) get(_ context.Context, hash digest.Hash) ([]byte, error) {
	// LoadManifest
	m, err := p.Manifest(hash)
	if err != nil {
		return nil, err
	}

	coder, err := p.coderFor(m.Redundancy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCodingFailure, err)
	}

	compression, err := envelope.ParseCompression(m.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptManifest, err)
	}

	cipher, err := envelope.New(m.Key, envelope.KeyMode(m.KeyMode))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptManifest, err)
	}

	// PerGroupReconstruct and Concatenate
	out := make([]byte, 0, min(m.TotalLen, maxPrealloc))
	for index := 0; index < m.ChunkCount(); index++ {
		plain, err := p.readChunk(m, coder, cipher, compression, index)
		if err != nil {
			return nil, err
		}
		out = append(out, plain...)
	}

	// Truncate
	if uint64(len(out)) > m.TotalLen {
		out = out[:m.TotalLen]
	}
	return out, nil
}

// gatherShards loads the shards of one group. Missing shards, and shards
// whose bytes no longer match their content address, become nil gaps.
func (p *Pipeline) gatherShards(group []manifest.ChunkRef) ([][]byte, error) {
	shards := make([][]byte, len(group))
	for pos, ref := range group {
		data, err := p.db.Get(manifest.ChunkKey(ref.ID))
		if errors.Is(err, kv.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: load shard %s: %w", ErrPersistenceFailure, ref.ID, err)
		}
		if manifest.ShardID(pos, data) != ref.ID {
			slog.Warn("Ignoring damaged shard", "shard", ref.ID, "position", pos)
			continue
		}
		shards[pos] = data
	}
	return shards, nil
}

func (p *Pipeline) readChunk(m *manifest.Manifest, coder *erasure.Coder, cipher *envelope.Cipher, compression envelope.Compression, index int) ([]byte, error) {
	shards, err := p.gatherShards(m.Group(index))
	if err != nil {
		return nil, err
	}

	blob, err := coder.Reconstruct(shards)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d: %w", ErrCodingFailure, index, err)
	}

	packed, err := cipher.Open(uint64(index), blob)
	switch {
	case errors.Is(err, envelope.ErrAuthentication):
		return nil, fmt.Errorf("%w: %w: %w", ErrCorruptChunk, ErrEncryptionFailure, err)
	case err != nil:
		return nil, fmt.Errorf("%w: chunk %d: %w", ErrCorruptChunk, index, err)
	}

	plain, err := envelope.Decompress(compression, packed)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d: %w", ErrCorruptChunk, index, err)
	}

	expected := m.ChunkPlainLen(index)
	if uint64(len(plain)) < expected {
		return nil, fmt.Errorf("%w: chunk %d holds %d bytes, expected %d", ErrCorruptChunk, index, len(plain), expected)
	}
	return plain[:expected], nil
}
