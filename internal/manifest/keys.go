package manifest

import (
	"fmt"
	"shardvault/internal/digest"
	"strings"
)

// Key namespaces in the persistence store.
const (
	PrefixChunk    = "chunk/"
	PrefixManifest = "manifest/"
	PrefixReceipt  = "receipt/"
)

// ShardID is the content address of a stored shard: the digest of its
// position within the group followed by its bytes.
func ShardID(position int, shard []byte) digest.Hash {
	return digest.Sum([]byte{byte(position)}, shard)
}

func ChunkKey(id digest.Hash) string {
	return PrefixChunk + id.String()
}

func ManifestKey(hash digest.Hash) string {
	return PrefixManifest + hash.String()
}

func ReceiptKey(hash digest.Hash) string {
	return PrefixReceipt + hash.String()
}

// ParseKey extracts the digest from a key in the given namespace.
func ParseKey(prefix string, key string) (digest.Hash, error) {
	rest, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return digest.Hash{}, fmt.Errorf("key %q is not in namespace %q", key, prefix)
	}
	return digest.Parse(rest)
}
