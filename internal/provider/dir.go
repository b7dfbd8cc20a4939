package provider

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"shardvault/internal/digest"
)

// Dir is a provider that stores shards under a local or mounted directory,
// addressed by their digest with the first two hex characters used as a
// subdirectory.
type Dir struct {
	id   string
	root string
}

// NewDir creates a Dir provider rooted at root.
func NewDir(id string, root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create provider dir: %w", err)
	}
	return &Dir{id: id, root: root}, nil
}

// ShardPath computes where a shard with the given hex digest lives.
func ShardPath(root string, hashHex string) (string, error) {
	if len(hashHex) < 2 {
		return "", fmt.Errorf("invalid hash length: %d", len(hashHex))
	}
	return filepath.Join(root, hashHex[:2], hashHex), nil
}

func (d *Dir) ID() string {
	return d.id
}

func (d *Dir) SendChunk(ctx context.Context, shard []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	objPath, err := ShardPath(d.root, digest.Sum(shard).String())
	if err != nil {
		return err
	}

	// Shards are content addressed, so an existing file already holds
	// these bytes.
	if _, err := os.Stat(objPath); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(objPath), ".shard-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(shard); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), objPath)
}

// Fetch reads back a shard previously sent with the given digest.
func (d *Dir) Fetch(id digest.Hash) ([]byte, error) {
	objPath, err := ShardPath(d.root, id.String())
	if err != nil {
		return nil, err
	}
	return os.ReadFile(objPath)
}

func (d *Dir) Probe(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	info, err := os.Stat(d.root)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s missing", ErrUnavailable, d.root)
	}
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("%w: %s is not a directory", ErrUnavailable, d.root)
	}
	return time.Since(start), nil
}
