package provider_test

import (
	"context"
	"os"
	"path/filepath"
	"shardvault/internal/digest"
	"shardvault/internal/provider"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirSendAndFetch(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d, err := provider.NewDir("disk", root)
	require.NoError(t, err, "NewDir error")
	require.Equal(t, "disk", d.ID(), "id mismatch")

	shard := []byte("shard bytes")
	require.NoError(t, d.SendChunk(context.Background(), shard), "SendChunk error")
	require.NoError(t, d.SendChunk(context.Background(), shard), "resending should be a no-op")

	hashHex := digest.Sum(shard).String()
	info, err := os.Stat(filepath.Join(root, hashHex[:2], hashHex))
	require.NoError(t, err, "expected shard file to exist")
	require.False(t, info.IsDir(), "shard path should be a file")

	got, err := d.Fetch(digest.Sum(shard))
	require.NoError(t, err, "Fetch error")
	require.Equal(t, shard, got, "shard mismatch")
}

func TestDirSendHonoursCancellation(t *testing.T) {
	t.Parallel()

	d, err := provider.NewDir("disk", t.TempDir())
	require.NoError(t, err, "NewDir error")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, d.SendChunk(ctx, []byte("x")), context.Canceled, "canceled send should fail")
}

func TestDirProbe(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "mount")
	d, err := provider.NewDir("disk", root)
	require.NoError(t, err, "NewDir error")

	_, err = d.Probe(context.Background())
	require.NoError(t, err, "Probe error")

	require.NoError(t, os.RemoveAll(root), "RemoveAll error")
	_, err = d.Probe(context.Background())
	require.ErrorIs(t, err, provider.ErrUnavailable, "missing root should be unavailable")
}

func TestShardPathRejectsShortHash(t *testing.T) {
	t.Parallel()

	_, err := provider.ShardPath(t.TempDir(), "a")
	require.Error(t, err, "expected error for too-short hash")
}
