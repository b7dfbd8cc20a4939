// Package kv is the byte-string persistence layer. Every backend stores
// opaque values under slash-namespaced keys such as "chunk/<hex>" or
// "manifest/<hex>".
package kv

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("kv: key not found")

// Store is a simple keyed byte store. Implementations must be safe for
// concurrent use by independent keys.
type Store interface {

	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) ([]byte, error)

	// Put stores value under key, replacing any existing value.
	Put(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error

	// Keys returns every stored key beginning with prefix in lexicographic
	// order.
	Keys(prefix string) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendFiles  = "files"
)

// Open creates the named backend rooted at dir. The memory backend ignores
// dir.
func Open(backend string, dir string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemory(), nil
	case BackendSQLite:
		return OpenSQLite(filepath.Join(dir, "kv.sqlite"))
	case BackendBadger:
		return OpenBadger(filepath.Join(dir, "badger"))
	case BackendFiles:
		return NewFiles(filepath.Join(dir, "objects"))
	default:
		return nil, fmt.Errorf("unknown kv backend %q", backend)
	}
}

func validateKey(key string) error {
	if key == "" {
		return errors.New("kv: empty key")
	}
	return nil
}

func sortedWithPrefix(keys []string, prefix string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
