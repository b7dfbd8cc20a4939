package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"shardvault/internal/digest"
	"shardvault/internal/manifest"

	"github.com/hashicorp/go-multierror"
)

// RepairReport summarizes one Repair.
type RepairReport struct {
	Groups        int `json:"groups"`
	Damaged       int `json:"damaged"`
	Rebuilt       int `json:"rebuilt"`
	Unrecoverable int `json:"unrecoverable"`
}

// Repair rewrites the missing or damaged shards of an object from the
// survivors of each group. Groups below the reconstruction threshold are
// counted as unrecoverable and reported in the returned error; the other
// groups are still repaired.
func (p *Pipeline) Repair(ctx context.Context, hash digest.Hash) (RepairReport, error) {
	p.writes.RLock()
	defer p.writes.RUnlock()

	var report RepairReport

	m, err := p.Manifest(hash)
	if err != nil {
		return report, err
	}

	coder, err := p.coderFor(m.Redundancy)
	if err != nil {
		return report, fmt.Errorf("%w: %w", ErrCodingFailure, err)
	}

	var result *multierror.Error
	for index := 0; index < m.ChunkCount(); index++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Groups++

		group := m.Group(index)
		shards, err := p.gatherShards(group)
		if err != nil {
			return report, err
		}

		gaps := make([]int, 0)
		for pos, shard := range shards {
			if shard == nil {
				gaps = append(gaps, pos)
			}
		}
		if len(gaps) == 0 {
			continue
		}
		report.Damaged++

		blob, err := coder.Reconstruct(shards)
		if err != nil {
			report.Unrecoverable++
			result = multierror.Append(result, fmt.Errorf("%w: chunk %d: %w", ErrCodingFailure, index, err))
			continue
		}

		rebuilt, err := coder.Encode(blob)
		if err != nil {
			return report, fmt.Errorf("%w: chunk %d: %w", ErrCodingFailure, index, err)
		}

		for _, pos := range gaps {
			ref := group[pos]
			if id := manifest.ShardID(pos, rebuilt[pos]); id != ref.ID {
				return report, fmt.Errorf("%w: chunk %d shard %d re-encodes to %s, expected %s", ErrCorruptChunk, index, pos, id, ref.ID)
			}
			if err := p.db.Put(manifest.ChunkKey(ref.ID), rebuilt[pos]); err != nil {
				return report, fmt.Errorf("%w: store shard %s: %w", ErrPersistenceFailure, ref.ID, err)
			}
			report.Rebuilt++
		}
	}

	p.metrics.ObserveRepair(report.Rebuilt)
	slog.Info("Repaired object",
		"manifest", hash,
		"groups", report.Groups,
		"damaged", report.Damaged,
		"rebuilt", report.Rebuilt,
		"unrecoverable", report.Unrecoverable,
	)
	return report, result.ErrorOrNil()
}
