package kv

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	tempPrefix = ".tmp-"

	// rootDir holds keys without a namespace. A bare '%' never comes out of
	// url.PathEscape, so it cannot collide with a real namespace.
	rootDir = "%"
)

// Files stores each value in its own file. The key namespace (everything up
// to the last '/') becomes a directory, and within it values are fanned out by
// the first two characters of their name, so "chunk/ab12..." lands in
// <root>/chunk/ab/ab12....
type Files struct {
	root string
}

// NewFiles creates a Files store rooted at root.
func NewFiles(root string) (*Files, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create objects dir: %w", err)
	}
	return &Files{root: root}, nil
}

func escapeSegment(segment string) (string, error) {
	if segment == "" || segment == "." || segment == ".." {
		return "", fmt.Errorf("kv: invalid key segment %q", segment)
	}
	escaped := url.PathEscape(segment)
	if strings.HasPrefix(escaped, ".") {
		escaped = "%2E" + escaped[1:]
	}
	return escaped, nil
}

// ObjectPath computes the filesystem path for key under root.
func ObjectPath(root string, key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	parts := []string{root}
	name := key
	if idx := strings.LastIndex(key, "/"); idx == -1 {
		parts = append(parts, rootDir)
	} else {
		namespace := key[:idx]
		name = key[idx+1:]
		for _, segment := range strings.Split(namespace, "/") {
			escaped, err := escapeSegment(segment)
			if err != nil {
				return "", err
			}
			parts = append(parts, escaped)
		}
	}

	escaped, err := escapeSegment(name)
	if err != nil {
		return "", err
	}

	subdir := escaped
	if len(subdir) > 2 {
		subdir = subdir[:2]
	}

	parts = append(parts, subdir, escaped)
	return filepath.Join(parts...), nil
}

// keyForPath reverses ObjectPath for a file found while walking root.
func keyForPath(root string, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return "", fmt.Errorf("unexpected object path %q", rel)
	}

	// drop the fan-out directory
	parts = append(parts[:len(parts)-2], parts[len(parts)-1])
	if parts[0] == rootDir {
		if len(parts) != 2 {
			return "", fmt.Errorf("unexpected object path %q", rel)
		}
		return url.PathUnescape(parts[1])
	}

	for i, part := range parts {
		unescaped, err := url.PathUnescape(part)
		if err != nil {
			return "", err
		}
		parts[i] = unescaped
	}
	return strings.Join(parts, "/"), nil
}

func (f *Files) Get(key string) ([]byte, error) {
	objPath, err := ObjectPath(f.root, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (f *Files) Put(key string, value []byte) error {
	objPath, err := ObjectPath(f.root, key)
	if err != nil {
		return err
	}
	return writeFileAtomic(objPath, value)
}

func (f *Files) Delete(key string) error {
	objPath, err := ObjectPath(f.root, key)
	if err != nil {
		return err
	}
	if err := os.Remove(objPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (f *Files) Keys(prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}

		key, err := keyForPath(f.root, path)
		if err != nil {
			return err
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

func (f *Files) Close() error {
	return nil
}
