package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shardvault/internal/envelope"
	"shardvault/internal/ledger"
	"shardvault/internal/manifest"
)

// quotaKB is the kilobyte charge for a payload of n bytes, rounded up.
func quotaKB(n int) uint64 {
	return (uint64(n) + 1023) / 1024
}

// Put stores payload under lane and returns its receipt. ctx is passed to
// provider sends only; once chunking starts the write runs to completion or
// to its first error. A failed write leaves no manifest or receipt behind.
func (p *Pipeline) Put(ctx context.Context, lane string, payload []byte) (manifest.Receipt, error) {
	start := time.Now()
	receipt, chunkLen, err := p.put(ctx, lane, payload)
	p.metrics.ObservePut(time.Since(start), len(payload), chunkLen, err)
	if err != nil {
		slog.Warn("Object write failed", "lane", lane, "bytes", len(payload), "error", err)
		return manifest.Receipt{}, err
	}

	slog.Info("Stored object",
		"lane", lane,
		"manifest", receipt.ManifestHash,
		"bytes", len(payload),
		"chunks", receipt.ChunkCount,
		"chunk_len", chunkLen,
		"redundancy", receipt.Redundancy,
		"duration", time.Since(start),
	)
	return receipt, nil
}

func (p *Pipeline) put(ctx context.Context, lane string, payload []byte) (manifest.Receipt, uint64, error) {
	p.writes.RLock()
	defer p.writes.RUnlock()

	// Admission
	kb := quotaKB(len(payload))
	if err := p.ledger.Spend(lane, ledger.ResourceWriteKB, kb); err != nil {
		return manifest.Receipt{}, 0, fmt.Errorf("%w: lane %q needs %d KiB: %w", ErrQuotaExceeded, lane, kb, err)
	}

	// ChunkLoop
	healthy, err := p.healthy()
	if err != nil {
		return manifest.Receipt{}, 0, err
	}
	if len(healthy) == 0 {
		return manifest.Receipt{}, 0, ErrNoProviders
	}

	chunkLen, err := p.profiles.PreferredSize(healthy[0].ID())
	if err != nil {
		return manifest.Receipt{}, 0, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	key := envelope.KeyFor(p.keyMode, lane, payload)
	cipher, err := envelope.New(key, p.keyMode)
	if err != nil {
		return manifest.Receipt{}, chunkLen, fmt.Errorf("%w: %w", ErrEncryptionFailure, err)
	}

	builder := manifest.NewBuilder(uint64(len(payload)), chunkLen, p.redundancy, key).
		WithCipher(envelope.Name, string(p.keyMode)).
		WithCompression(string(p.compression))

	dist := newDistributor(p, healthy)
	for index, offset := 0, 0; offset < len(payload); index, offset = index+1, offset+int(chunkLen) {
		end := min(offset+int(chunkLen), len(payload))

		packed, err := envelope.Compress(p.compression, payload[offset:end])
		if err != nil {
			return manifest.Receipt{}, chunkLen, fmt.Errorf("%w: compress chunk %d: %w", ErrEncryptionFailure, index, err)
		}

		blob, err := cipher.Seal(uint64(index), packed)
		if err != nil {
			return manifest.Receipt{}, chunkLen, fmt.Errorf("%w: seal chunk %d: %w", ErrEncryptionFailure, index, err)
		}

		shards, err := p.coder.Encode(blob)
		if err != nil {
			return manifest.Receipt{}, chunkLen, fmt.Errorf("%w: chunk %d: %w", ErrCodingFailure, index, err)
		}

		refs, err := dist.dispatch(ctx, index, shards)
		if err != nil {
			return manifest.Receipt{}, chunkLen, err
		}
		for _, ref := range refs {
			builder.Append(ref)
		}
	}

	// Finalize
	for _, id := range dist.touched {
		prof, err := p.profiles.Retune(id)
		if err != nil {
			return manifest.Receipt{}, chunkLen, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
		}
		rtt, loss := p.catalog.Stats(id)
		p.metrics.ObserveProvider(id, rtt, loss, prof.PreferredChunk)
	}

	m, data, err := builder.Finalize()
	if err != nil {
		return manifest.Receipt{}, chunkLen, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	receipt := manifest.NewReceipt(m, lane)
	receiptData, err := receipt.Encode()
	if err != nil {
		return manifest.Receipt{}, chunkLen, fmt.Errorf("%w: encode receipt: %w", ErrPersistenceFailure, err)
	}

	if err := p.db.Put(manifest.ManifestKey(m.Hash), data); err != nil {
		return manifest.Receipt{}, chunkLen, fmt.Errorf("%w: store manifest: %w", ErrPersistenceFailure, err)
	}
	if err := p.db.Put(manifest.ReceiptKey(m.Hash), receiptData); err != nil {
		return manifest.Receipt{}, chunkLen, fmt.Errorf("%w: store receipt: %w", ErrPersistenceFailure, err)
	}

	p.cache.Add(m.Hash, m)
	return receipt, chunkLen, nil
}
