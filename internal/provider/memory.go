package provider

import (
	"bytes"
	"context"
	"sync"
	"time"

	"shardvault/internal/digest"
)

// Memory is an in-process provider. It keeps every shard it accepts and can
// be told to fail, which makes it useful for tests and local nodes.
type Memory struct {
	id  string
	rtt time.Duration

	mu     sync.Mutex
	shards map[digest.Hash][]byte
	order  []digest.Hash
	fail   error
	delay  time.Duration
}

// NewMemory creates a Memory provider named id.
func NewMemory(id string) *Memory {
	return &Memory{id: id, shards: make(map[digest.Hash][]byte)}
}

func (m *Memory) ID() string {
	return m.id
}

func (m *Memory) SendChunk(ctx context.Context, shard []byte) error {
	m.mu.Lock()
	fail, delay := m.fail, m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if fail != nil {
		return fail
	}

	sum := digest.Sum(shard)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shards[sum]; !ok {
		m.shards[sum] = bytes.Clone(shard)
	}
	m.order = append(m.order, sum)
	return nil
}

func (m *Memory) Probe(ctx context.Context) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fail != nil {
		return 0, m.fail
	}
	return m.rtt, nil
}

// FailWith makes subsequent sends and probes return err. A nil err clears the
// failure.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// SetDelay makes every send block for d.
func (m *Memory) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetRTT sets the round trip reported by Probe.
func (m *Memory) SetRTT(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rtt = d
}

// Sends is the number of shards accepted, including duplicates.
func (m *Memory) Sends() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Has reports whether a shard with the given content was accepted.
func (m *Memory) Has(shard []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.shards[digest.Sum(shard)]
	return ok
}
