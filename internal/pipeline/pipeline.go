// Package pipeline stores and retrieves objects: it chunks, seals, erasure
// codes and distributes payloads on write, and reverses those steps on read.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"shardvault/internal/digest"
	"shardvault/internal/envelope"
	"shardvault/internal/erasure"
	"shardvault/internal/kv"
	"shardvault/internal/ledger"
	"shardvault/internal/manifest"
	"shardvault/internal/metrics"
	"shardvault/internal/profile"
	"shardvault/internal/provider"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of decoded manifests kept in memory.
const DefaultCacheSize = 256

// Pipeline is the put/get engine of one node. It is safe for concurrent use.
type Pipeline struct {
	db       kv.Store
	ledger   ledger.Ledger
	catalog  provider.Catalog
	profiles *profile.Store
	metrics  *metrics.Metrics

	redundancy  erasure.Redundancy
	coder       *erasure.Coder
	keyMode     envelope.KeyMode
	compression envelope.Compression
	ladder      profile.Ladder
	cacheSize   int
	cache       *lru.Cache[digest.Hash, *manifest.Manifest]
	now         func() time.Time

	// writes are held shared by Put and exclusively by Sweep, so a sweep
	// never sees the shards of an unfinished write.
	writes sync.RWMutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRedundancy sets the policy used for new writes.
func WithRedundancy(r erasure.Redundancy) Option {
	return func(p *Pipeline) {
		p.redundancy = r
	}
}

// WithKeyMode sets how per-object keys are produced.
func WithKeyMode(mode envelope.KeyMode) Option {
	return func(p *Pipeline) {
		p.keyMode = mode
	}
}

// WithCompression sets the chunk compression used for new writes.
func WithCompression(c envelope.Compression) Option {
	return func(p *Pipeline) {
		p.compression = c
	}
}

// WithLadder overrides the chunk-size ladder. New sorts and de-duplicates it.
func WithLadder(l profile.Ladder) Option {
	return func(p *Pipeline) {
		p.ladder = l
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithCacheSize sets how many decoded manifests are cached.
func WithCacheSize(n int) Option {
	return func(p *Pipeline) {
		p.cacheSize = n
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline over the given collaborators.
func New(db kv.Store, credits ledger.Ledger, catalog provider.Catalog, opts ...Option) (*Pipeline, error) {
	if db == nil || credits == nil || catalog == nil {
		return nil, errors.New("pipeline needs a store, a ledger and a catalog")
	}

	p := &Pipeline{
		db:          db,
		ledger:      credits,
		catalog:     catalog,
		redundancy:  erasure.None,
		keyMode:     envelope.KeyConvergent,
		compression: envelope.CompressionNone,
		ladder:      profile.DefaultLadder(),
		cacheSize:   DefaultCacheSize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	ladder, err := profile.NewLadder(p.ladder...)
	if err != nil {
		return nil, fmt.Errorf("ladder: %w", err)
	}
	p.ladder = ladder

	coder, err := erasure.New(p.redundancy)
	if err != nil {
		return nil, fmt.Errorf("redundancy: %w", err)
	}
	p.coder = coder

	if p.cacheSize < 1 {
		p.cacheSize = 1
	}
	cache, err := lru.New[digest.Hash, *manifest.Manifest](p.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("manifest cache: %w", err)
	}
	p.cache = cache

	p.profiles = profile.NewStore(db, p.ladder, profile.WithClock(p.now))
	return p, nil
}

// Redundancy returns the policy applied to new writes.
func (p *Pipeline) Redundancy() erasure.Redundancy {
	return p.redundancy
}

// ProfileStore exposes the provider profile store.
func (p *Pipeline) ProfileStore() *profile.Store {
	return p.profiles
}

// healthy returns the catalog's healthy providers minus those in
// maintenance.
func (p *Pipeline) healthy() ([]provider.Provider, error) {
	candidates := p.catalog.Healthy()
	out := make([]provider.Provider, 0, len(candidates))
	for _, candidate := range candidates {
		prof, err := p.profiles.Load(candidate.ID())
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
		}
		if prof.Maintenance {
			continue
		}
		out = append(out, candidate)
	}
	return out, nil
}
