package profile

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"shardvault/internal/codec"
	"shardvault/internal/kv"
)

// Prefix is the key namespace of persisted profiles.
const Prefix = "provider_profiles/"

// Key returns the persistence key of provider's profile.
func Key(provider string) string {
	return Prefix + provider
}

// Snapshot pairs a provider identity with its profile.
type Snapshot struct {
	Provider string  `json:"provider"`
	Profile  Profile `json:"profile"`
}

// Store loads and saves provider profiles. Every read-modify-write of a
// provider's profile runs under that provider's lock.
type Store struct {
	db     kv.Store
	ladder Ladder
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store persisting into db.
func NewStore(db kv.Store, ladder Ladder, opts ...StoreOption) *Store {
	s := &Store{
		db:     db,
		ladder: ladder,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ladder returns the store's chunk ladder.
func (s *Store) Ladder() Ladder {
	return s.ladder
}

func (s *Store) lock(provider string) func() {
	s.mu.Lock()
	l, ok := s.locks[provider]
	if !ok {
		l = &sync.Mutex{}
		s.locks[provider] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// load reads provider's profile, returning a cold profile when none is
// stored. Undecodable profiles are replaced rather than failing writes.
func (s *Store) load(provider string) (Profile, error) {
	data, err := s.db.Get(Key(provider))
	if errors.Is(err, kv.ErrNotFound) {
		return New(s.ladder), nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile %s: %w", provider, err)
	}

	var p Profile
	if err := codec.Unmarshal(data, &p); err != nil {
		slog.Warn("Discarding unreadable provider profile", "provider", provider, "error", err)
		return New(s.ladder), nil
	}
	p.normalize(s.ladder)
	return p, nil
}

func (s *Store) save(provider string, p Profile) error {
	data, err := codec.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", provider, err)
	}
	if err := s.db.Put(Key(provider), data); err != nil {
		return fmt.Errorf("save profile %s: %w", provider, err)
	}
	return nil
}

// Load returns provider's current profile.
func (s *Store) Load(provider string) (Profile, error) {
	unlock := s.lock(provider)
	defer unlock()
	return s.load(provider)
}

// Save replaces provider's profile.
func (s *Store) Save(provider string, p Profile) error {
	unlock := s.lock(provider)
	defer unlock()
	return s.save(provider, p)
}

// Update loads provider's profile, applies fn and saves the result, all under
// the provider's lock.
func (s *Store) Update(provider string, fn func(p *Profile)) (Profile, error) {
	unlock := s.lock(provider)
	defer unlock()

	p, err := s.load(provider)
	if err != nil {
		return Profile{}, err
	}
	fn(&p)
	if err := s.save(provider, p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// PreferredSize is the chunk size the next write to provider should use.
func (s *Store) PreferredSize(provider string) (uint64, error) {
	p, err := s.Load(provider)
	if err != nil {
		return 0, err
	}
	return p.PreferredChunk, nil
}

// Record folds one transfer into provider's estimates.
func (s *Store) Record(provider string, bytes uint64, elapsed time.Duration, rttMS float64, loss float64) (Profile, error) {
	now := s.now()
	return s.Update(provider, func(p *Profile) {
		p.Record(bytes, elapsed, rttMS, loss, now)
	})
}

// RecordFailure notes a failed transfer to provider.
func (s *Store) RecordFailure(provider string) (Profile, error) {
	now := s.now()
	return s.Update(provider, func(p *Profile) {
		p.RecordFailure(s.ladder, now)
	})
}

// Retune applies the hysteresis policy to provider's profile once.
func (s *Store) Retune(provider string) (Profile, error) {
	return s.Update(provider, func(p *Profile) {
		before := p.PreferredChunk
		if p.Retune(s.ladder) {
			slog.Info("Retuned provider chunk size",
				"provider", provider,
				"from", before,
				"to", p.PreferredChunk,
				"bandwidth", p.BandwidthEWMA,
				"rtt_ms", p.RTTEWMA,
				"loss", p.LossEWMA,
			)
		}
	})
}

// Observe records one transfer, retunes and returns the preferred size.
func (s *Store) Observe(provider string, bytes uint64, elapsed time.Duration, rttMS float64, loss float64) (uint64, error) {
	now := s.now()
	p, err := s.Update(provider, func(p *Profile) {
		p.Observe(s.ladder, bytes, elapsed, rttMS, loss, now)
	})
	if err != nil {
		return 0, err
	}
	return p.PreferredChunk, nil
}

// SetMaintenance flags or clears provider's maintenance mode.
func (s *Store) SetMaintenance(provider string, on bool) error {
	_, err := s.Update(provider, func(p *Profile) {
		p.Maintenance = on
	})
	return err
}

// Snapshots returns every stored profile ordered by provider identity.
func (s *Store) Snapshots() ([]Snapshot, error) {
	keys, err := s.db.Keys(Prefix)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	out := make([]Snapshot, 0, len(keys))
	for _, key := range keys {
		provider := strings.TrimPrefix(key, Prefix)
		p, err := s.Load(provider)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{Provider: provider, Profile: p})
	}
	return out, nil
}
