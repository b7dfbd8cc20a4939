package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"shardvault/internal/manifest"
	"shardvault/internal/provider"
)

// distributor assigns the shards of one write to providers round-robin. Its
// counter runs across every chunk of the write, so consecutive chunks start
// on different providers.
type distributor struct {
	p       *Pipeline
	healthy []provider.Provider
	next    int

	// touched lists, in first-use order, the providers whose profiles
	// received observations during this write.
	touched []string
	seen    map[string]struct{}
}

func newDistributor(p *Pipeline, healthy []provider.Provider) *distributor {
	return &distributor{
		p:       p,
		healthy: healthy,
		seen:    make(map[string]struct{}),
	}
}

func (d *distributor) touch(id string) {
	if _, ok := d.seen[id]; ok {
		return
	}
	d.seen[id] = struct{}{}
	d.touched = append(d.touched, id)
}

// dispatch sends the shards of one chunk, persists them locally under their
// content address and records one observation for the first provider used.
// The observation's elapsed time covers the provider sends only.
func (d *distributor) dispatch(ctx context.Context, chunk int, shards [][]byte) ([]manifest.ChunkRef, error) {
	refs := make([]manifest.ChunkRef, 0, len(shards))

	var (
		first   string
		total   uint64
		elapsed time.Duration
	)

	for pos, shard := range shards {
		target := d.healthy[d.next%len(d.healthy)]
		d.next++

		id := target.ID()
		if first == "" {
			first = id
		}

		start := time.Now()
		err := target.SendChunk(ctx, shard)
		elapsed += time.Since(start)
		d.p.metrics.ObserveShard(id, err)
		if err != nil {
			if _, ferr := d.p.profiles.RecordFailure(id); ferr != nil {
				slog.Warn("Failed to record provider failure", "provider", id, "error", ferr)
			}
			return nil, fmt.Errorf("%w: chunk %d shard %d to %s: %w", ErrDispatchFailure, chunk, pos, id, err)
		}

		shardID := manifest.ShardID(pos, shard)
		if err := d.p.db.Put(manifest.ChunkKey(shardID), shard); err != nil {
			return nil, fmt.Errorf("%w: store shard %s: %w", ErrPersistenceFailure, shardID, err)
		}

		refs = append(refs, manifest.ChunkRef{ID: shardID, Providers: []string{id}})
		total += uint64(len(shard))
	}

	rtt, loss := d.p.catalog.Stats(first)
	if _, err := d.p.profiles.Record(first, total, elapsed, rtt, loss); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	d.touch(first)

	slog.Debug("Dispatched chunk",
		"chunk", chunk,
		"shards", len(shards),
		"bytes", total,
		"provider", first,
		"elapsed", elapsed,
	)
	return refs, nil
}
