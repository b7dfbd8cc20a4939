package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

const (
	// probeWeight is the weight of a new probe sample in the RTT and loss
	// averages.
	probeWeight = 0.2

	// DefaultMaxFailures is the number of consecutive failed probes after
	// which a provider is marked down.
	DefaultMaxFailures = 3
)

// Status is the catalog's view of one provider.
type Status struct {
	ID       string    `json:"id"`
	Up       bool      `json:"up"`
	RTTMS    float64   `json:"rtt_ms"`
	Loss     float64   `json:"loss"`
	Failures int       `json:"consecutive_failures"`
	Probed   time.Time `json:"last_probe"`
}

type entry struct {
	provider Provider
	status   Status
}

// Registry is an in-memory Catalog. Providers are reported in registration
// order.
type Registry struct {
	mu          sync.RWMutex
	entries     []*entry
	index       map[string]*entry
	maxFailures int
	now         func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index:       make(map[string]*entry),
		maxFailures: DefaultMaxFailures,
		now:         time.Now,
	}
}

// Register adds p as an up provider.
func (r *Registry) Register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[p.ID()]; ok {
		return fmt.Errorf("provider %q already registered", p.ID())
	}

	e := &entry{provider: p, status: Status{ID: p.ID(), Up: true}}
	r.entries = append(r.entries, e)
	r.index[p.ID()] = e
	return nil
}

// Remove drops provider id from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[id]; !ok {
		return
	}
	delete(r.index, id)
	for i, e := range r.entries {
		if e.provider.ID() == id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			break
		}
	}
}

// Get returns the registered provider with identity id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// SetUp marks provider id as up or down.
func (r *Registry) SetUp(id string, up bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.index[id]
	if !ok {
		return fmt.Errorf("unknown provider %q", id)
	}
	e.status.Up = up
	if up {
		e.status.Failures = 0
	}
	return nil
}

// SetStats overrides the RTT and loss reported for provider id.
func (r *Registry) SetStats(id string, rttMS float64, loss float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.index[id]
	if !ok {
		return fmt.Errorf("unknown provider %q", id)
	}
	e.status.RTTMS = rttMS
	e.status.Loss = loss
	return nil
}

func (r *Registry) Healthy() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.entries))
	for _, e := range r.entries {
		if e.status.Up {
			out = append(out, e.provider)
		}
	}
	return out
}

func (r *Registry) Stats(id string) (float64, float64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.index[id]
	if !ok {
		return 0, 0
	}
	return e.status.RTTMS, e.status.Loss
}

// Statuses returns a copy of every provider's status in registration order.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.status)
	}
	return out
}

func smooth(prev float64, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return (1-probeWeight)*prev + probeWeight*sample
}

func (r *Registry) recordProbe(id string, rtt time.Duration, probeErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.index[id]
	if !ok {
		return
	}

	e.status.Probed = r.now()
	if probeErr != nil {
		e.status.Failures++
		e.status.Loss = smooth(e.status.Loss, 1)
		if e.status.Up && e.status.Failures >= r.maxFailures {
			slog.Warn("Marking provider down", "provider", id, "failures", e.status.Failures, "error", probeErr)
			e.status.Up = false
		}
		return
	}

	if !e.status.Up {
		slog.Info("Provider is back up", "provider", id)
	}
	e.status.Up = true
	e.status.Failures = 0
	e.status.RTTMS = smooth(e.status.RTTMS, float64(rtt)/float64(time.Millisecond))
	e.status.Loss = smooth(e.status.Loss, 0)
}

// Probe measures every registered Prober concurrently and folds the results
// into the catalog. Providers without a Probe method are left untouched. The
// returned error aggregates every failed probe.
func (r *Registry) Probe(ctx context.Context) error {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.entries))
	for _, e := range r.entries {
		providers = append(providers, e.provider)
	}
	r.mu.RUnlock()

	var (
		mu     sync.Mutex
		result *multierror.Error
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for _, p := range providers {
		prober, ok := p.(Prober)
		if !ok {
			continue
		}

		eg.Go(func() error {
			rtt, err := prober.Probe(ctx)
			r.recordProbe(p.ID(), rtt, err)
			if err != nil {
				mu.Lock()
				result = multierror.Append(result, fmt.Errorf("probe %s: %w", p.ID(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	return result.ErrorOrNil()
}

// RunProber probes every interval until ctx is done.
func (r *Registry) RunProber(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Probe(ctx); err != nil {
				slog.Debug("Provider probe round finished with errors", "error", err)
			}
		}
	}
}
