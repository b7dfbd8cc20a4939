package pipeline_test

import (
	"bytes"
	"context"
	"fmt"
	"shardvault/internal/envelope"
	"shardvault/internal/erasure"
	"shardvault/internal/kv"
	"shardvault/internal/ledger"
	"shardvault/internal/manifest"
	"shardvault/internal/pipeline"
	"shardvault/internal/profile"
	"shardvault/internal/provider"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"lukechampine.com/frand"
)

// smallLadder keeps multi-chunk payloads small. Its cold default is 4096.
var smallLadder = profile.Ladder{1024, 2048, 4096}

const lane = "lane-a"

type harness struct {
	db        *kv.Memory
	credits   *ledger.Memory
	registry  *provider.Registry
	providers []*provider.Memory
	pipe      *pipeline.Pipeline
}

func newHarness(t *testing.T, providers int, opts ...pipeline.Option) *harness {
	t.Helper()

	h := &harness{
		db:       kv.NewMemory(),
		credits:  ledger.NewMemory(),
		registry: provider.NewRegistry(),
	}
	require.NoError(t, h.credits.Deposit(lane, ledger.ResourceWriteKB, 1<<30), "Deposit error")

	for i := 0; i < providers; i++ {
		p := provider.NewMemory(fmt.Sprintf("p%d", i))
		require.NoError(t, h.registry.Register(p), "Register error")
		h.providers = append(h.providers, p)
	}

	opts = append([]pipeline.Option{pipeline.WithLadder(smallLadder)}, opts...)
	pipe, err := pipeline.New(h.db, h.credits, h.registry, opts...)
	require.NoError(t, err, "pipeline.New error")
	h.pipe = pipe
	return h
}

// holdNetwork puts every provider in the band where the controller neither
// grows nor shrinks chunk sizes.
func (h *harness) holdNetwork(t *testing.T) {
	t.Helper()
	for _, p := range h.providers {
		require.NoError(t, h.registry.SetStats(p.ID(), 100, 0.01), "SetStats error")
	}
}

func (h *harness) keys(t *testing.T, prefix string) []string {
	t.Helper()
	keys, err := h.db.Keys(prefix)
	require.NoError(t, err, "Keys error")
	return keys
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	policies := []erasure.Redundancy{erasure.None, erasure.ReedSolomon(1, 1), erasure.ReedSolomon(3, 2)}
	sizes := []int{0, 1, 1000, 4095, 4096, 4097, 3*4096 + 17}

	for _, policy := range policies {
		t.Run(policy.String(), func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, 3, pipeline.WithRedundancy(policy))
			for _, size := range sizes {
				payload := frand.Bytes(size)

				receipt, err := h.pipe.Put(context.Background(), lane, payload)
				require.NoError(t, err, "Put(%d) error", size)

				got, err := h.pipe.Get(context.Background(), receipt.ManifestHash)
				require.NoError(t, err, "Get(%d) error", size)
				require.Len(t, got, size, "length must match exactly")
				require.True(t, bytes.Equal(payload, got), "payload mismatch for %d bytes", size)
			}
		})
	}
}

func TestTruncation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, pipeline.WithRedundancy(erasure.ReedSolomon(1, 1)))
	payload := bytes.Repeat([]byte{0xab}, 2*4096+5)

	receipt, err := h.pipe.Put(context.Background(), lane, payload)
	require.NoError(t, err, "Put error")
	require.Equal(t, uint64(3), receipt.ChunkCount, "three chunks")

	m, err := h.pipe.Manifest(receipt.ManifestHash)
	require.NoError(t, err, "Manifest error")
	require.Equal(t, uint64(4096), m.ChunkLen, "cold chunk length")
	require.Equal(t, uint64(len(payload)), m.TotalLen, "declared length")

	got, err := h.pipe.Get(context.Background(), receipt.ManifestHash)
	require.NoError(t, err, "Get error")
	require.Equal(t, payload, got, "no padding may leak through")
}

func TestContentAddressedIdempotence(t *testing.T) {
	t.Parallel()

	for _, policy := range []erasure.Redundancy{erasure.None, erasure.ReedSolomon(1, 1)} {
		h := newHarness(t, 2, pipeline.WithRedundancy(policy))
		h.holdNetwork(t)

		payload := frand.Bytes(3*4096 + 100)

		first, err := h.pipe.Put(context.Background(), lane, payload)
		require.NoError(t, err, "first Put error")
		chunks := len(h.keys(t, manifest.PrefixChunk))

		second, err := h.pipe.Put(context.Background(), lane, payload)
		require.NoError(t, err, "second Put error")

		require.Equal(t, first.ManifestHash, second.ManifestHash, "same payload must give the same manifest (%s)", policy)
		require.Len(t, h.keys(t, manifest.PrefixChunk), chunks, "rewrite must not add chunk entries")
		require.Len(t, h.keys(t, manifest.PrefixManifest), 1, "one manifest")
	}
}

func TestSamePayloadInTwoLanesStaysSeparate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, pipeline.WithRedundancy(erasure.ReedSolomon(1, 1)))
	h.holdNetwork(t)
	require.NoError(t, h.credits.Deposit("lane-b", ledger.ResourceWriteKB, 1<<20), "Deposit error")

	payload := frand.Bytes(6000)

	a, err := h.pipe.Put(context.Background(), lane, payload)
	require.NoError(t, err, "Put lane-a error")
	b, err := h.pipe.Put(context.Background(), "lane-b", payload)
	require.NoError(t, err, "Put lane-b error")
	require.NotEqual(t, a.ManifestHash, b.ManifestHash, "lanes must not share a manifest")

	stored, err := h.pipe.Receipt(a.ManifestHash)
	require.NoError(t, err, "Receipt error")
	require.Equal(t, lane, stored.Lane, "first lane's receipt must not be rewritten")

	require.NoError(t, h.pipe.Delete(b.ManifestHash), "Delete error")
	_, err = h.pipe.Sweep()
	require.NoError(t, err, "Sweep error")

	got, err := h.pipe.Get(context.Background(), a.ManifestHash)
	require.NoError(t, err, "other lane's delete must not touch this object")
	require.Equal(t, payload, got, "payload mismatch")

	stored, err = h.pipe.Receipt(a.ManifestHash)
	require.NoError(t, err, "Receipt error")
	require.Equal(t, lane, stored.Lane, "receipt lane")
}

func TestRandomKeysAreNotConvergent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, pipeline.WithKeyMode(envelope.KeyRandom))
	payload := []byte("same bytes twice")

	a, err := h.pipe.Put(context.Background(), lane, payload)
	require.NoError(t, err, "Put error")
	b, err := h.pipe.Put(context.Background(), lane, payload)
	require.NoError(t, err, "Put error")
	require.NotEqual(t, a.ManifestHash, b.ManifestHash, "random keys should give distinct manifests")

	for _, hash := range []manifest.Receipt{a, b} {
		got, err := h.pipe.Get(context.Background(), hash.ManifestHash)
		require.NoError(t, err, "Get error")
		require.Equal(t, payload, got, "payload mismatch")
	}
}

func TestReconstructionTolerance(t *testing.T) {
	t.Parallel()

	const data, parity = 2, 2
	h := newHarness(t, 4, pipeline.WithRedundancy(erasure.ReedSolomon(data, parity)))
	payload := frand.Bytes(3*4096 - 7)

	receipt, err := h.pipe.Put(context.Background(), lane, payload)
	require.NoError(t, err, "Put error")

	m, err := h.pipe.Manifest(receipt.ManifestHash)
	require.NoError(t, err, "Manifest error")

	// Drop parity-many shards from every group, at different positions.
	for g := 0; g < m.ChunkCount(); g++ {
		group := m.Group(g)
		for k := 0; k < parity; k++ {
			pos := (g + k) % len(group)
			require.NoError(t, h.db.Delete(manifest.ChunkKey(group[pos].ID)), "Delete error")
		}
	}

	got, err := h.pipe.Get(context.Background(), receipt.ManifestHash)
	require.NoError(t, err, "Get with %d of %d shards per group", data, data+parity)
	require.Equal(t, payload, got, "payload mismatch")

	// One more loss in a single group is fatal.
	group := m.Group(1)
	for _, ref := range group {
		require.NoError(t, h.db.Delete(manifest.ChunkKey(ref.ID)), "Delete error")
	}
	_, err = h.pipe.Get(context.Background(), receipt.ManifestHash)
	require.ErrorIs(t, err, pipeline.ErrCodingFailure, "too few shards should be a coding failure")
}

func TestDamagedShardIsTreatedAsGap(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2, pipeline.WithRedundancy(erasure.ReedSolomon(1, 1)))
	payload := frand.Bytes(5000)

	receipt, err := h.pipe.Put(context.Background(), lane, payload)
	require.NoError(t, err, "Put error")
	m, err := h.pipe.Manifest(receipt.ManifestHash)
	require.NoError(t, err, "Manifest error")

	require.NoError(t, h.db.Put(manifest.ChunkKey(m.Chunks[0].ID), []byte("garbage")), "Put error")

	got, err := h.pipe.Get(context.Background(), receipt.ManifestHash)
	require.NoError(t, err, "parity should cover a damaged shard")
	require.Equal(t, payload, got, "payload mismatch")

	require.NoError(t, h.db.Put(manifest.ChunkKey(m.Chunks[1].ID), []byte("garbage")), "Put error")
	_, err = h.pipe.Get(context.Background(), receipt.ManifestHash)
	require.ErrorIs(t, err, pipeline.ErrCodingFailure, "both shards damaged")
}

func TestQuotaEnforcement(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 2)
	require.NoError(t, h.credits.Deposit("tight", ledger.ResourceWriteKB, 1023), "Deposit error")

	_, err := h.pipe.Put(context.Background(), "tight", make([]byte, 1<<20))
	require.ErrorIs(t, err, pipeline.ErrQuotaExceeded, "1024 KiB must not fit in 1023 KiB")
	require.ErrorIs(t, err, ledger.ErrInsufficient, "ledger cause should be kept")
	require.Empty(t, h.keys(t, manifest.PrefixChunk), "no chunk may be written")
	require.Empty(t, h.keys(t, manifest.PrefixManifest), "no manifest may be written")
	for _, p := range h.providers {
		require.Zero(t, p.Sends(), "no shard may be sent")
	}

	// Exactly 1023 KiB fits.
	_, err = h.pipe.Put(context.Background(), "tight", make([]byte, 1023*1024))
	require.NoError(t, err, "Put within quota")
}

func TestNoProviders(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 0)
	_, err := h.pipe.Put(context.Background(), lane, []byte("x"))
	require.ErrorIs(t, err, pipeline.ErrNoProviders, "empty catalog")

	h = newHarness(t, 1)
	require.NoError(t, h.pipe.SetMaintenance("p0", true), "SetMaintenance error")
	_, err = h.pipe.Put(context.Background(), lane, []byte("x"))
	require.ErrorIs(t, err, pipeline.ErrNoProviders, "every provider in maintenance")
}

func TestEmptyPayload(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1)
	receipt, err := h.pipe.Put(context.Background(), lane, nil)
	require.NoError(t, err, "Put error")
	require.Zero(t, receipt.ChunkCount, "no chunks")
	require.Empty(t, h.keys(t, manifest.PrefixChunk), "no chunk entries")

	got, err := h.pipe.Get(context.Background(), receipt.ManifestHash)
	require.NoError(t, err, "Get error")
	require.Empty(t, got, "empty payload")
}

func TestLadderIsNormalized(t *testing.T) {
	t.Parallel()

	h := newHarness(t, 1, pipeline.WithLadder(profile.Ladder{4096, 1024, 2048, 1024}))
	payload := frand.Bytes(10000)

	receipt, err := h.pipe.Put(context.Background(), lane, payload)
	require.NoError(t, err, "Put error")
	require.Equal(t, uint64(3), receipt.ChunkCount, "cold start uses the largest entry of the sorted ladder")

	got, err := h.pipe.Get(context.Background(), receipt.ManifestHash)
	require.NoError(t, err, "Get error")
	require.Equal(t, payload, got, "payload mismatch")

	for _, bad := range []profile.Ladder{nil, {}, {0, 1024}} {
		_, err := pipeline.New(kv.NewMemory(), ledger.NewMemory(), provider.NewRegistry(), pipeline.WithLadder(bad))
		require.Error(t, err, "ladder %v should be rejected", bad)
	}
}

// slowStore delays chunk writes so their cost would show up in a provider's
// upload timing if it were measured.
type slowStore struct {
	*kv.Memory
	delay time.Duration
}

func (s slowStore) Put(key string, value []byte) error {
	if strings.HasPrefix(key, manifest.PrefixChunk) {
		time.Sleep(s.delay)
	}
	return s.Memory.Put(key, value)
}

func TestUploadTimingCoversSendsOnly(t *testing.T) {
	t.Parallel()

	const (
		sendDelay  = 20 * time.Millisecond
		storeDelay = 300 * time.Millisecond
	)

	credits := ledger.NewMemory()
	require.NoError(t, credits.Deposit(lane, ledger.ResourceWriteKB, 1<<20), "Deposit error")
	registry := provider.NewRegistry()
	for i := 0; i < 2; i++ {
		p := provider.NewMemory(fmt.Sprintf("p%d", i))
		p.SetDelay(sendDelay)
		require.NoError(t, registry.Register(p), "Register error")
	}

	pipe, err := pipeline.New(slowStore{Memory: kv.NewMemory(), delay: storeDelay}, credits, registry,
		pipeline.WithLadder(smallLadder),
		pipeline.WithRedundancy(erasure.ReedSolomon(1, 1)),
	)
	require.NoError(t, err, "pipeline.New error")

	_, err = pipe.Put(context.Background(), lane, frand.Bytes(1000))
	require.NoError(t, err, "Put error")

	prof, err := pipe.ProfileStore().Load("p0")
	require.NoError(t, err, "Load error")
	require.GreaterOrEqual(t, prof.LastUploadSecs, (2 * sendDelay).Seconds(), "both sends counted")
	require.Less(t, prof.LastUploadSecs, storeDelay.Seconds(), "local store writes excluded")
}
