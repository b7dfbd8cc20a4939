package kv_test

import (
	"os"
	"path/filepath"
	"shardvault/internal/kv"
	"testing"

	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]kv.Store {
	t.Helper()

	stores := make(map[string]kv.Store)
	for _, backend := range []string{kv.BackendMemory, kv.BackendSQLite, kv.BackendBadger, kv.BackendFiles} {
		store, err := kv.Open(backend, t.TempDir())
		require.NoError(t, err, "Open(%s) error", backend)
		t.Cleanup(func() { _ = store.Close() })
		stores[backend] = store
	}
	return stores
}

func TestStorePutGetDelete(t *testing.T) {
	t.Parallel()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get("manifest/missing")
			require.ErrorIs(t, err, kv.ErrNotFound, "missing key should be ErrNotFound")

			require.NoError(t, store.Put("manifest/abcd", []byte("one")), "Put error")
			got, err := store.Get("manifest/abcd")
			require.NoError(t, err, "Get error")
			require.Equal(t, []byte("one"), got, "value mismatch")

			// Put replaces existing values.
			require.NoError(t, store.Put("manifest/abcd", []byte("two")), "second Put error")
			got, err = store.Get("manifest/abcd")
			require.NoError(t, err, "Get after overwrite error")
			require.Equal(t, []byte("two"), got, "overwritten value mismatch")

			require.NoError(t, store.Delete("manifest/abcd"), "Delete error")
			_, err = store.Get("manifest/abcd")
			require.ErrorIs(t, err, kv.ErrNotFound, "deleted key should be gone")

			require.NoError(t, store.Delete("manifest/abcd"), "deleting a missing key should not fail")
		})
	}
}

func TestStoreKeysByPrefix(t *testing.T) {
	t.Parallel()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{
				"chunk/bb02",
				"chunk/aa01",
				"manifest/cc03",
				"provider_profiles/node-1",
				"Chunk/upper",
			} {
				require.NoError(t, store.Put(key, []byte(key)), "Put(%s) error", key)
			}

			keys, err := store.Keys("chunk/")
			require.NoError(t, err, "Keys error")
			require.Equal(t, []string{"chunk/aa01", "chunk/bb02"}, keys, "chunk keys mismatch")

			keys, err = store.Keys("provider_profiles/")
			require.NoError(t, err, "Keys error")
			require.Equal(t, []string{"provider_profiles/node-1"}, keys, "profile keys mismatch")

			keys, err = store.Keys("receipt/")
			require.NoError(t, err, "Keys error")
			require.Empty(t, keys, "no receipts expected")
		})
	}
}

func TestStoreEmptyValue(t *testing.T) {
	t.Parallel()

	for name, store := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put("chunk/empty", nil), "Put error")
			got, err := store.Get("chunk/empty")
			require.NoError(t, err, "Get error")
			require.Empty(t, got, "empty value expected")
		})
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()

	_, err := kv.Open("etcd", t.TempDir())
	require.Error(t, err, "unknown backend should fail")
}

func TestFilesLayout(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := kv.NewFiles(root)
	require.NoError(t, err, "NewFiles error")

	require.NoError(t, store.Put("chunk/abcdef", []byte("x")), "Put error")

	info, err := os.Stat(filepath.Join(root, "chunk", "ab", "abcdef"))
	require.NoError(t, err, "expected fanned-out object file")
	require.False(t, info.IsDir(), "object path should be a file")

	// Odd characters in provider identities are escaped, not interpreted.
	require.NoError(t, store.Put("provider_profiles/s3:eu/west", []byte("y")), "Put error")
	require.NoError(t, store.Put("rootkey", []byte("z")), "Put error")

	keys, err := store.Keys("")
	require.NoError(t, err, "Keys error")
	require.ElementsMatch(t, []string{"chunk/abcdef", "provider_profiles/s3:eu/west", "rootkey"}, keys, "keys mismatch")
}

func TestFilesRejectsTraversal(t *testing.T) {
	t.Parallel()

	store, err := kv.NewFiles(t.TempDir())
	require.NoError(t, err, "NewFiles error")

	require.Error(t, store.Put("../escape", []byte("x")), "parent segment should be rejected")
	require.Error(t, store.Put("chunk/", []byte("x")), "empty name should be rejected")
}
