package pipeline

import (
	"errors"
	"fmt"
	"log/slog"

	"shardvault/internal/digest"
	"shardvault/internal/kv"
	"shardvault/internal/manifest"
	"shardvault/internal/profile"

	"github.com/hashicorp/go-multierror"
)

// Receipt returns the receipt issued for the object stored under hash.
func (p *Pipeline) Receipt(hash digest.Hash) (manifest.Receipt, error) {
	data, err := p.db.Get(manifest.ReceiptKey(hash))
	if errors.Is(err, kv.ErrNotFound) {
		return manifest.Receipt{}, fmt.Errorf("%w: no receipt for %s", ErrManifestNotFound, hash)
	}
	if err != nil {
		return manifest.Receipt{}, fmt.Errorf("%w: load receipt %s: %w", ErrPersistenceFailure, hash, err)
	}

	r, err := manifest.DecodeReceipt(data)
	if err != nil {
		return manifest.Receipt{}, fmt.Errorf("%w: %w", ErrCorruptManifest, err)
	}
	return r, nil
}

// Delete removes the manifest and receipt of an object. Its shards stay in
// place until the next Sweep.
func (p *Pipeline) Delete(hash digest.Hash) error {
	if _, err := p.db.Get(manifest.ManifestKey(hash)); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrManifestNotFound, hash)
		}
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	p.cache.Remove(hash)
	if err := p.db.Delete(manifest.ManifestKey(hash)); err != nil {
		return fmt.Errorf("%w: delete manifest: %w", ErrPersistenceFailure, err)
	}
	if err := p.db.Delete(manifest.ReceiptKey(hash)); err != nil {
		return fmt.Errorf("%w: delete receipt: %w", ErrPersistenceFailure, err)
	}

	slog.Info("Deleted object", "manifest", hash)
	return nil
}

// Manifests lists up to limit stored manifests; limit <= 0 lists all.
// Entries that fail to decode are skipped.
func (p *Pipeline) Manifests(limit int) ([]manifest.Summary, error) {
	keys, err := p.db.Keys(manifest.PrefixManifest)
	if err != nil {
		return nil, fmt.Errorf("%w: list manifests: %w", ErrPersistenceFailure, err)
	}

	out := make([]manifest.Summary, 0)
	for _, key := range keys {
		if limit > 0 && len(out) >= limit {
			break
		}

		hash, err := manifest.ParseKey(manifest.PrefixManifest, key)
		if err != nil {
			continue
		}
		m, err := p.Manifest(hash)
		if err != nil {
			slog.Warn("Skipping unreadable manifest", "key", key, "error", err)
			continue
		}
		out = append(out, m.Summary())
	}
	return out, nil
}

// SweepReport summarizes one Sweep.
type SweepReport struct {
	Manifests int `json:"manifests"`
	Scanned   int `json:"scanned"`
	Removed   int `json:"removed"`
}

// Sweep deletes chunk entries that no manifest references, such as the
// shards of failed writes or deleted objects. It refuses to run while any
// manifest is unreadable, since its references would be unknown.
func (p *Pipeline) Sweep() (SweepReport, error) {
	p.writes.Lock()
	defer p.writes.Unlock()

	var report SweepReport

	keys, err := p.db.Keys(manifest.PrefixManifest)
	if err != nil {
		return report, fmt.Errorf("%w: list manifests: %w", ErrPersistenceFailure, err)
	}

	live := make(map[digest.Hash]struct{})
	for _, key := range keys {
		hash, err := manifest.ParseKey(manifest.PrefixManifest, key)
		if err != nil {
			return report, fmt.Errorf("%w: unexpected key %q", ErrCorruptManifest, key)
		}
		m, err := p.Manifest(hash)
		if err != nil {
			return report, err
		}
		for _, ref := range m.Chunks {
			live[ref.ID] = struct{}{}
		}
		report.Manifests++
	}

	chunks, err := p.db.Keys(manifest.PrefixChunk)
	if err != nil {
		return report, fmt.Errorf("%w: list chunks: %w", ErrPersistenceFailure, err)
	}

	var result *multierror.Error
	for _, key := range chunks {
		report.Scanned++

		id, err := manifest.ParseKey(manifest.PrefixChunk, key)
		if err == nil {
			if _, ok := live[id]; ok {
				continue
			}
		}

		if err := p.db.Delete(key); err != nil {
			result = multierror.Append(result, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		report.Removed++
	}

	p.metrics.ObserveSweep(report.Removed)
	slog.Info("Swept chunk store", "manifests", report.Manifests, "scanned", report.Scanned, "removed", report.Removed)

	if err := result.ErrorOrNil(); err != nil {
		return report, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	return report, nil
}

// Profiles returns every provider profile.
func (p *Pipeline) Profiles() ([]profile.Snapshot, error) {
	snaps, err := p.profiles.Snapshots()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	return snaps, nil
}

// SetMaintenance excludes provider from, or returns it to, the set that new
// writes distribute to.
func (p *Pipeline) SetMaintenance(provider string, on bool) error {
	if err := p.profiles.SetMaintenance(provider, on); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	slog.Info("Updated provider maintenance", "provider", provider, "maintenance", on)
	return nil
}
