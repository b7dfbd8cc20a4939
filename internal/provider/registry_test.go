package provider_test

import (
	"context"
	"errors"
	"shardvault/internal/provider"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistryHealthyOrder(t *testing.T) {
	t.Parallel()

	r := provider.NewRegistry()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(provider.NewMemory(id)), "Register(%s) error", id)
	}
	require.Error(t, r.Register(provider.NewMemory("a")), "duplicate id should fail")

	ids := func() []string {
		out := make([]string, 0)
		for _, p := range r.Healthy() {
			out = append(out, p.ID())
		}
		return out
	}

	require.Equal(t, []string{"c", "a", "b"}, ids(), "registration order")

	require.NoError(t, r.SetUp("a", false), "SetUp error")
	require.Equal(t, []string{"c", "b"}, ids(), "down providers are skipped")

	r.Remove("c")
	require.Equal(t, []string{"b"}, ids(), "removed providers are gone")

	require.Error(t, r.SetUp("zzz", true), "unknown provider should fail")
}

func TestRegistryStats(t *testing.T) {
	t.Parallel()

	r := provider.NewRegistry()
	require.NoError(t, r.Register(provider.NewMemory("p")), "Register error")
	require.NoError(t, r.SetStats("p", 42, 0.01), "SetStats error")

	rtt, loss := r.Stats("p")
	require.Equal(t, 42.0, rtt, "rtt mismatch")
	require.Equal(t, 0.01, loss, "loss mismatch")

	rtt, loss = r.Stats("unknown")
	require.Zero(t, rtt, "unknown rtt")
	require.Zero(t, loss, "unknown loss")
}

func TestRegistryProbeMarksDownAndUp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := provider.NewRegistry()
	flaky := provider.NewMemory("flaky")
	flaky.SetRTT(20 * time.Millisecond)
	require.NoError(t, r.Register(flaky), "Register error")

	require.NoError(t, r.Probe(ctx), "healthy probe should succeed")
	rtt, loss := r.Stats("flaky")
	require.InDelta(t, 20, rtt, 1e-9, "rtt from probe")
	require.Zero(t, loss, "no loss")

	flaky.FailWith(errors.New("connection refused"))
	for i := 0; i < provider.DefaultMaxFailures; i++ {
		require.Error(t, r.Probe(ctx), "failing probe should report")
		if i < provider.DefaultMaxFailures-1 {
			require.Len(t, r.Healthy(), 1, "still up after %d failures", i+1)
		}
	}
	require.Empty(t, r.Healthy(), "down after repeated failures")

	_, loss = r.Stats("flaky")
	require.Greater(t, loss, 0.0, "failures raise loss")

	flaky.FailWith(nil)
	require.NoError(t, r.Probe(ctx), "recovered probe should succeed")
	require.Len(t, r.Healthy(), 1, "back up after a good probe")

	statuses := r.Statuses()
	require.Len(t, statuses, 1, "one status")
	require.True(t, statuses[0].Up, "status up")
	require.Zero(t, statuses[0].Failures, "failures reset")
}

func TestBuildRegistry(t *testing.T) {
	t.Parallel()

	r, err := provider.BuildRegistry([]provider.Spec{
		{ID: "mem", Kind: provider.KindMemory},
		{ID: "disk", Kind: provider.KindDir, Path: t.TempDir()},
		{ID: "bucket", Kind: provider.KindS3, S3: provider.S3Config{Endpoint: "127.0.0.1:9000", Bucket: "shards"}},
	})
	require.NoError(t, err, "BuildRegistry error")
	require.Len(t, r.Healthy(), 3, "three providers")

	_, err = provider.Build(provider.Spec{ID: "x", Kind: "ftp"})
	require.Error(t, err, "unknown kind should fail")

	_, err = provider.Build(provider.Spec{ID: "x", Kind: provider.KindDir})
	require.Error(t, err, "dir without path should fail")

	_, err = provider.Build(provider.Spec{Kind: provider.KindMemory})
	require.Error(t, err, "missing id should fail")
}
